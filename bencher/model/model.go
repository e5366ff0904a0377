// Package model holds the §3 data-model structs shared by every domain
// package. These are plain structs: persistence lives in bencher/store,
// not here.
package model

import (
	"time"

	"github.com/google/uuid"

	"go.bencher.dev/core/bencher/units"
)

// Visibility is a Project's visibility scope.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type Project struct {
	ID             int64
	UUID           uuid.UUID
	OrganizationID int64
	Name           string
	Slug           string
	Visibility     Visibility
	Created        time.Time
	Modified       time.Time
}

type Branch struct {
	ID      int64
	UUID    uuid.UUID
	ProjectID int64
	Name    string
	Slug    string
}

// Head is one entry in a Branch's head history; only one Head per
// Branch has Replaced == nil (the current head).
type Head struct {
	ID       int64
	BranchID int64
	Created  time.Time
	Replaced *time.Time
}

type Version struct {
	ID        int64
	ProjectID int64
	Number    int64
	Hash      *string
}

// HeadVersion ranks a Version within a Head's ancestry; Rank ascends in
// attachment order (rank 0 is the first version attached to the head, and
// each newly attached version gets the next higher rank).
type HeadVersion struct {
	HeadID    int64
	VersionID int64
	Rank      int64
}

type Testbed struct {
	ID        int64
	UUID      uuid.UUID
	ProjectID int64
	Name      string
	Slug      string
	Archived  bool
}

type Measure struct {
	ID        int64
	UUID      uuid.UUID
	ProjectID int64
	Name      string
	Slug      string
	Units     units.Unit
}

type Benchmark struct {
	ID        int64
	UUID      uuid.UUID
	ProjectID int64
	Name      string
	Slug      string
	Ignored   bool
}

type Report struct {
	ID        int64
	UUID      uuid.UUID
	ProjectID int64
	BranchID  int64
	HeadID    int64
	TestbedID int64
	VersionID int64
	Adapter   string
	StartTime time.Time
	EndTime   time.Time
	Created   time.Time
	Completed bool
}

type ReportBenchmark struct {
	ID          int64
	ReportID    int64
	Iteration   int64
	BenchmarkID int64
}

type Metric struct {
	ID                int64
	UUID              uuid.UUID
	ReportBenchmarkID int64
	MeasureID         int64
	Value             float64
	LowerValue        *float64
	UpperValue        *float64
}

// Test identifies a statistical test kind (§4.6).
type Test string

const (
	TestStaticLower Test = "StaticLower"
	TestStaticUpper Test = "StaticUpper"
	TestPercentile  Test = "Percentile"
	TestZScore      Test = "ZScore"
	TestTStudent    Test = "TStudent"
	TestLogNormal   Test = "LogNormal"
	TestIQR         Test = "IQR"
	TestDeltaIQR    Test = "DeltaIQR"
)

type Threshold struct {
	ID            int64
	UUID          uuid.UUID
	ProjectID     int64
	BranchID      int64
	TestbedID     int64
	MeasureID     int64
	CurrentModelID *int64
	Created       time.Time
	Modified      time.Time
}

// Model (a.k.a. Statistic) is a Threshold's test configuration at a
// point in time; changing it creates a new row rather than mutating in
// place, so historical Boundary rows keep their original parameters.
type Model struct {
	ID             int64
	ThresholdID    int64
	Test           Test
	MinSampleSize  *int64
	MaxSampleSize  *int64
	WindowSeconds  *int64
	LowerBoundary  *float64
	UpperBoundary  *float64
	Created        time.Time
}

type Boundary struct {
	ID          int64
	MetricID    int64
	ThresholdID int64
	ModelID     int64
	Baseline    *float64
	LowerLimit  *float64
	UpperLimit  *float64
}

// Side is which boundary a metric crossed.
type Side string

const (
	SideLeft  Side = "Left"
	SideRight Side = "Right"
)

type AlertStatus string

const (
	AlertActive    AlertStatus = "Active"
	AlertDismissed AlertStatus = "Dismissed"
	AlertSilenced  AlertStatus = "Silenced"
)

type Alert struct {
	ID         int64
	UUID       uuid.UUID
	BoundaryID int64
	Iteration  int64
	Side       Side
	Limit      float64
	Status     AlertStatus
	Modified   time.Time
}

// JobStatus is a Job's lifecycle state (§3): transitions are
// Pending->Claimed->Running->{Succeeded,Failed,Canceled}, with a
// Pending->Canceled shortcut; once terminal, status never changes.
type JobStatus string

const (
	JobPending   JobStatus = "Pending"
	JobClaimed   JobStatus = "Claimed"
	JobRunning   JobStatus = "Running"
	JobSucceeded JobStatus = "Succeeded"
	JobFailed    JobStatus = "Failed"
	JobCanceled  JobStatus = "Canceled"
)

// IsTerminal reports whether s is one of the terminal statuses.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// Tier is the priority band a Job's Priority falls into (§4.8).
type Tier string

const (
	TierUnclaimed  Tier = "Unclaimed"
	TierFree       Tier = "Free"
	TierTeam       Tier = "Team"
	TierEnterprise Tier = "Enterprise"
)

// TierOf classifies a raw priority integer into its Tier band.
func TierOf(priority int) Tier {
	switch {
	case priority >= 300:
		return TierEnterprise
	case priority >= 200:
		return TierTeam
	case priority >= 100:
		return TierFree
	default:
		return TierUnclaimed
	}
}

type Job struct {
	ID             int64
	UUID           uuid.UUID
	ReportID       *int64
	OrganizationID int64
	SourceIP       string
	Status         JobStatus
	SpecID         int64
	ConfigJSON     string
	TimeoutSecs    int64
	Priority       int
	RunnerID       *int64
	Claimed        *time.Time
	Started        *time.Time
	LastHeartbeat  *time.Time
	Completed      *time.Time
	ExitCode       *int
	Created        time.Time
	Modified       time.Time
}

// Tier derives this Job's Tier from its Priority.
func (j Job) Tier() Tier { return TierOf(j.Priority) }

type Runner struct {
	ID        int64
	UUID      uuid.UUID
	Name      string
	Slug      string
	TokenHash string
	Created   time.Time
	Archived  bool
	Locked    bool
}

type Spec struct {
	ID       int64
	UUID     uuid.UUID
	CPU      int64
	Memory   int64
	Disk     int64
	Network  bool
	Archived bool
}

// RunnerSpec is the many-to-many association between Runner and Spec.
type RunnerSpec struct {
	RunnerID int64
	SpecID   int64
}
