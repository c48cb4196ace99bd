// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusPaused    JobStatus = "PAUSED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCompleted JobStatus = "COMPLETED"
)

// Finished reports whether the status ends a run (it may still be resumable).
func (s JobStatus) Finished() bool {
	switch s {
	case JobStatusPaused, JobStatusFailed, JobStatusCompleted:
		return true
	default:
		return false
	}
}

// Scope narrows the set of entities a job walks.
type Scope struct {
	Source      string `json:"source"`
	Distinction string `json:"distinction,omitempty"`
	// EntityID switches the job to single-entity mode, bypassing pagination.
	EntityID string `json:"entity_id,omitempty"`
}

// SingleEntity reports whether the scope names exactly one entity.
func (s Scope) SingleEntity() bool {
	return s.EntityID != ""
}

func (s Scope) String() string {
	if s.SingleEntity() {
		return fmt.Sprintf("%s entity=%s", s.Source, s.EntityID)
	}
	if s.Distinction == "" {
		return s.Source
	}
	return fmt.Sprintf("%s distinction=%s", s.Source, s.Distinction)
}

// JobCounters tracks per-entity outcome totals for a job.
type JobCounters struct {
	Seen      int `json:"seen"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	NotFound  int `json:"not_found"`
}

// Processed returns the number of entities that reached a final outcome.
func (c JobCounters) Processed() int {
	return c.Succeeded + c.Failed + c.Skipped + c.NotFound
}

// Record folds a finished entity into the counters and returns the new value.
func (c JobCounters) Record(result EntityResult) JobCounters {
	c.Seen++
	switch {
	case result.Skipped:
		c.Skipped++
	case result.Err != nil:
		c.Failed++
	case result.Status == CrawlStatusArtifactFound:
		c.Succeeded++
	case result.Status == CrawlStatusDownloadFailed:
		c.Failed++
	default:
		c.NotFound++
	}
	return c
}

// Job represents one bounded crawl run.
type Job struct {
	ID         string      `json:"id"`
	Status     JobStatus   `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Scope      Scope       `json:"scope"`
	Counters   JobCounters `json:"counters"`
	ErrorText  string      `json:"error_text,omitempty"`
}

// CrawlStatus is the per-entity discovery outcome persisted on the Entity.
type CrawlStatus string

// Crawl status values.
const (
	CrawlStatusNotStarted           CrawlStatus = "NOT_STARTED"
	CrawlStatusNoSourceURL          CrawlStatus = "NO_SOURCE_URL"
	CrawlStatusSiteSearchedNotFound CrawlStatus = "SITE_SEARCHED_NOT_FOUND"
	CrawlStatusArtifactFound        CrawlStatus = "ARTIFACT_FOUND"
	CrawlStatusDownloadFailed       CrawlStatus = "DOWNLOAD_FAILED"
)

// Entity is a restaurant tracked across runs.
type Entity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SourceURL   string `json:"source_url"`
	SiteURL     string `json:"site_url,omitempty"`
	Distinction string `json:"distinction,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Country     string `json:"country,omitempty"`

	ArtifactURL  string `json:"artifact_url,omitempty"`
	ArtifactHash string `json:"artifact_hash,omitempty"`
	ArtifactURI  string `json:"artifact_uri,omitempty"`
	TextURI      string `json:"text_uri,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`

	CrawlStatus   CrawlStatus `json:"crawl_status"`
	PagesVisited  int         `json:"pages_visited"`
	LastCrawledAt *time.Time  `json:"last_crawled_at,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// HasKnownArtifact reports whether a prior run cached an artifact location.
func (e Entity) HasKnownArtifact() bool {
	return e.ArtifactURL != ""
}

// EntityRef identifies an entity discovered on a listing page.
type EntityRef struct {
	ID        string `json:"id"`
	SourceURL string `json:"source_url"`
}

// EntityResult is the final outcome of one entity's pass through the workflow.
type EntityResult struct {
	EntityID string
	Status   CrawlStatus
	Skipped  bool
	Err      error
}

// Tier names the discovery strategy that produced a Candidate.
type Tier string

// Discovery tiers in priority order.
const (
	TierCached   Tier = "cached"
	TierKeyword  Tier = "in-site-keyword"
	TierMenu     Tier = "in-site-fallback-page"
	TierExternal Tier = "external-index"
	TierManual   Tier = "manual"
)

// Candidate is a transient artifact-location hypothesis.
type Candidate struct {
	URL       string  `json:"url"`
	Tier      Tier    `json:"tier"`
	Score     float64 `json:"score"`
	Validated bool    `json:"validated"`
}

// Stage names a node in the per-entity workflow.
type Stage string

// Workflow stages.
const (
	StageProcessEntity  Stage = "PROCESS_ENTITY"
	StageCrawlSite      Stage = "CRAWL_SITE"
	StageSearchFallback Stage = "SEARCH_FALLBACK"
	StageDownload       Stage = "DOWNLOAD"
	StageExtract        Stage = "EXTRACT"
	StageSave           Stage = "SAVE"
	StageDone           Stage = "DONE"
)

// Scratch is stage-local data carried between transitions of one entity.
type Scratch struct {
	HasSite           bool        `json:"has_site,omitempty"`
	FallbackAttempted bool        `json:"fallback_attempted,omitempty"`
	Skipped           bool        `json:"skipped,omitempty"`
	Candidate         *Candidate  `json:"candidate,omitempty"`
	PagesVisited      int         `json:"pages_visited,omitempty"`
	ArtifactPath      string      `json:"artifact_path,omitempty"`
	ArtifactURI       string      `json:"artifact_uri,omitempty"`
	ContentHash       string      `json:"content_hash,omitempty"`
	MimeType          string      `json:"mime_type,omitempty"`
	TextURI           string      `json:"text_uri,omitempty"`
	Status            CrawlStatus `json:"status,omitempty"`
}

// StageState is the workflow position of one in-flight entity.
type StageState struct {
	Stage    Stage   `json:"stage"`
	EntityID string  `json:"entity_id"`
	Scratch  Scratch `json:"scratch"`
}

// Clone returns a copy that shares no pointers with s.
func (s StageState) Clone() StageState {
	if s.Scratch.Candidate != nil {
		c := *s.Scratch.Candidate
		s.Scratch.Candidate = &c
	}
	return s
}

// Checkpoint is the durable resumption point of a job. Values are treated as
// immutable: every With* method returns a new Checkpoint.
type Checkpoint struct {
	JobID      string `json:"job_id"`
	Page       int    `json:"page"`
	PageLoaded bool   `json:"page_loaded"`
	TotalPages int    `json:"total_pages,omitempty"`
	// Entities is the ordered entity list discovered on Page.
	Entities []EntityRef `json:"entities,omitempty"`
	// NextIndex is the first index that is not part of the completed prefix.
	NextIndex int `json:"next_index"`
	// Completed holds finished indices beyond NextIndex.
	Completed []int `json:"completed,omitempty"`
	// InFlight holds the workflow position of started entities by index.
	InFlight map[int]StageState `json:"in_flight,omitempty"`
	Counters JobCounters        `json:"counters"`
}

// NewCheckpoint returns the starting point of a fresh job: page 1, index 0.
func NewCheckpoint(jobID string) Checkpoint {
	return Checkpoint{JobID: jobID, Page: 1}
}

// Clone deep-copies the checkpoint.
func (c Checkpoint) Clone() Checkpoint {
	c.Entities = slices.Clone(c.Entities)
	c.Completed = slices.Clone(c.Completed)
	if c.InFlight != nil {
		inflight := make(map[int]StageState, len(c.InFlight))
		for k, v := range c.InFlight {
			inflight[k] = v.Clone()
		}
		c.InFlight = inflight
	}
	return c
}

// Exhausted reports whether every entity on the recorded page has completed.
func (c Checkpoint) Exhausted() bool {
	return c.PageLoaded && c.NextIndex >= len(c.Entities)
}

// IsCompleted reports whether index has finished on the recorded page.
func (c Checkpoint) IsCompleted(index int) bool {
	return index < c.NextIndex || slices.Contains(c.Completed, index)
}

// WithPage replaces the entity list with a freshly fetched page and resets the index.
func (c Checkpoint) WithPage(page int, entities []EntityRef, totalPages int) Checkpoint {
	next := c.Clone()
	next.Page = page
	next.PageLoaded = true
	next.TotalPages = totalPages
	next.Entities = slices.Clone(entities)
	next.NextIndex = 0
	next.Completed = nil
	next.InFlight = nil
	return next
}

// WithStage records the workflow position of the entity at index.
func (c Checkpoint) WithStage(index int, state StageState) Checkpoint {
	next := c.Clone()
	if next.InFlight == nil {
		next.InFlight = make(map[int]StageState)
	}
	next.InFlight[index] = state.Clone()
	return next
}

// WithCompleted marks index finished, folds its result into the counters and
// advances NextIndex over the contiguous completed prefix.
func (c Checkpoint) WithCompleted(index int, result EntityResult) Checkpoint {
	next := c.Clone()
	if next.IsCompleted(index) {
		return next
	}
	delete(next.InFlight, index)
	if len(next.InFlight) == 0 {
		next.InFlight = nil
	}
	next.Counters = next.Counters.Record(result)
	next.Completed = append(next.Completed, index)
	slices.Sort(next.Completed)
	for len(next.Completed) > 0 && next.Completed[0] == next.NextIndex {
		next.Completed = next.Completed[1:]
		next.NextIndex++
	}
	if len(next.Completed) == 0 {
		next.Completed = nil
	}
	return next
}

// Pending returns the indices on the recorded page that still need work.
func (c Checkpoint) Pending() []int {
	var out []int
	for i := c.NextIndex; i < len(c.Entities); i++ {
		if !slices.Contains(c.Completed, i) {
			out = append(out, i)
		}
	}
	return out
}

// InFlightIndices returns the started-but-unfinished indices in order.
func (c Checkpoint) InFlightIndices() []int {
	return slices.Sorted(maps.Keys(c.InFlight))
}

// EntityTask is one unit of work handed to the worker pool.
type EntityTask struct {
	JobID  string
	Index  int
	Ref    EntityRef
	Resume *StageState
	Force  bool
}

// ListingPage is one fetched page of the source-of-record listing.
type ListingPage struct {
	Number     int
	Entities   []EntityRef
	TotalPages int
}

// Link is an outbound anchor on a fetched page.
type Link struct {
	URL     string
	Text    string
	Context string
}

// Page is the result returned by a PageFetcher implementation.
type Page struct {
	URL          string
	StatusCode   int
	ContentType  string
	Content      []byte
	Title        string
	Headings     []string
	Links        []Link
	Duration     time.Duration
	UsedHeadless bool
}

// Download is a fetched artifact with its digest.
type Download struct {
	URL         string
	Data        []byte
	ContentHash string
	MimeType    string
}

// ArtifactEvent is published when an entity's artifact is saved.
type ArtifactEvent struct {
	JobID       string `json:"job_id"`
	EntityID    string `json:"entity_id"`
	Name        string `json:"name"`
	ArtifactURL string `json:"artifact_url"`
	ContentHash string `json:"content_hash"`
	ArtifactURI string `json:"artifact_uri"`
	TextURI     string `json:"text_uri,omitempty"`
	Tier        Tier   `json:"tier"`
}
