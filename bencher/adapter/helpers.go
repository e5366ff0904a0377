package adapter

import "strings"

// splitLines splits raw into non-empty, trimmed lines.
func splitLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func removeCommas(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

// finishSingleIteration wraps a single accumulated Iteration into the
// []Iteration contract. Per §4.2's failure mode, an empty parse of a
// non-empty input is not itself an error.
func finishSingleIteration(iter Iteration) ([]Iteration, error) {
	if len(iter) == 0 {
		return nil, nil
	}
	return []Iteration{iter}, nil
}
