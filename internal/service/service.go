package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sgerhart/aegisflux/backend/avclass/internal/alias"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/labels"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/metrics"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/model"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/ranker"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/report"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/store"
)

// Rule set names reported on each report
const (
	RuleSetBaseline = "baseline"
	RuleSetAlias    = "alias"
)

// ErrNotStarted is returned when a request arrives before Start succeeded
var ErrNotStarted = errors.New("avclass service not started")

// Options configures where the service loads its data from
type Options struct {
	// RulesDir holds the tagging, expansion and taxonomy files; empty uses the bundled ones
	RulesDir string
	// DatasetPath is the alias dataset loaded at start; empty uses the bundled one
	DatasetPath string
	// UpdatesDir is searched for newer datasets at start and on LoadLatest
	UpdatesDir string
	// IncludeAliasDataset is the default for requests that do not set the flag
	IncludeAliasDataset bool
}

// state is the immutable set of tables a request runs against. It is
// replaced wholesale on every dataset update.
type state struct {
	baseline    *labels.RuleSet
	enriched    *labels.RuleSet
	importer    *alias.Importer
	datasetPath string
	loadedAt    time.Time
	generation  uint64
}

// Service wires the ranker, the alias importer and the report assembler
type Service struct {
	opts    Options
	cache   *store.ReportCache
	metrics *metrics.Metrics
	logger  *slog.Logger

	state          atomic.Pointer[state]
	includeDefault atomic.Bool
	updateMu       sync.Mutex
}

// DatasetStatus describes the active alias dataset
type DatasetStatus struct {
	Loaded     bool      `json:"loaded"`
	Path       string    `json:"path,omitempty"`
	Entries    int       `json:"entries"`
	Prefixes   []string  `json:"prefixes,omitempty"`
	LoadedAt   time.Time `json:"loaded_at,omitempty"`
	Generation uint64    `json:"generation"`
}

// FamilyInfo is the alias view of a single family
type FamilyInfo struct {
	Family     string   `json:"family"`
	CommonName string   `json:"common_name"`
	AKA        []string `json:"aka"`
	Actors     []string `json:"actors"`
	DatasetKey string   `json:"dataset_key,omitempty"`
}

// New creates a service. cache may be nil to disable report caching.
func New(opts Options, cache *store.ReportCache, m *metrics.Metrics, logger *slog.Logger) *Service {
	s := &Service{
		opts:    opts,
		cache:   cache,
		metrics: m,
		logger:  logger,
	}
	s.includeDefault.Store(opts.IncludeAliasDataset)
	return s
}

// Start loads the rule files and the alias dataset. Rule file errors are
// fatal; a dataset that fails to load only disables alias enrichment.
func (s *Service) Start(ctx context.Context) error {
	baseline, err := s.loadRuleSet()
	if err != nil {
		return fmt.Errorf("failed to load rule files: %w", err)
	}
	s.logger.Info("Rule files loaded",
		"rules_dir", s.opts.RulesDir,
		"tags", baseline.Taxonomy().Len(),
		"translations", baseline.Translation().Len(),
		"expansions", baseline.Expansion().Len())

	s.state.Store(&state{baseline: baseline})

	ds, path, err := s.initialDataset()
	if err != nil {
		s.logger.Error("Failed to load alias dataset, enrichment unavailable", "error", err)
		s.metrics.IncDatasetReloads(false)
		return nil
	}
	if err := s.applyDataset(ds, path); err != nil {
		s.logger.Error("Failed to merge alias dataset, enrichment unavailable", "path", path, "error", err)
		s.metrics.IncDatasetReloads(false)
	}

	return nil
}

func (s *Service) loadRuleSet() (*labels.RuleSet, error) {
	if s.opts.RulesDir == "" {
		return labels.DefaultRuleSet()
	}
	return labels.LoadRuleSet(os.DirFS(s.opts.RulesDir))
}

// initialDataset picks the newest loadable update, then the configured
// path, then the bundled dataset
func (s *Service) initialDataset() (*alias.Dataset, string, error) {
	if s.opts.UpdatesDir != "" {
		ds, path, err := alias.LoadLatest(s.opts.UpdatesDir, s.logger)
		if err == nil {
			return ds, path, nil
		}
		s.logger.Warn("No usable dataset in updates directory", "dir", s.opts.UpdatesDir, "error", err)
	}

	if s.opts.DatasetPath != "" {
		ds, err := alias.LoadDataset(s.opts.DatasetPath)
		if err == nil {
			return ds, s.opts.DatasetPath, nil
		}
		s.logger.Warn("Configured alias dataset failed to load", "path", s.opts.DatasetPath, "error", err)
	}

	ds, err := alias.BundledDataset()
	if err != nil {
		return nil, "", err
	}
	return ds, "bundled", nil
}

// Update reloads the alias dataset from path. On failure the active dataset
// is kept.
func (s *Service) Update(path string) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	ds, err := alias.LoadDataset(path)
	if err != nil {
		s.metrics.IncDatasetReloads(false)
		s.logger.Error("Alias dataset update failed, keeping previous dataset", "path", path, "error", err)
		return err
	}
	if err := s.applyDataset(ds, path); err != nil {
		s.metrics.IncDatasetReloads(false)
		s.logger.Error("Alias dataset merge failed, keeping previous dataset", "path", path, "error", err)
		return err
	}
	return nil
}

// LoadLatest reloads from the newest loadable file in the updates directory
func (s *Service) LoadLatest() error {
	if s.opts.UpdatesDir == "" {
		return errors.New("no updates directory configured")
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	ds, path, err := alias.LoadLatest(s.opts.UpdatesDir, s.logger)
	if err != nil {
		s.metrics.IncDatasetReloads(false)
		s.logger.Error("Alias dataset reload failed, keeping previous dataset", "dir", s.opts.UpdatesDir, "error", err)
		return err
	}
	if err := s.applyDataset(ds, path); err != nil {
		s.metrics.IncDatasetReloads(false)
		s.logger.Error("Alias dataset merge failed, keeping previous dataset", "path", path, "error", err)
		return err
	}
	return nil
}

// applyDataset builds the enriched rule set off to the side and publishes
// it with a single pointer swap
func (s *Service) applyDataset(ds *alias.Dataset, path string) error {
	current := s.state.Load()
	if current == nil {
		return ErrNotStarted
	}

	importer := alias.NewImporter(ds)
	enriched, err := importer.Merge(current.baseline)
	if err != nil {
		return err
	}

	next := &state{
		baseline:    current.baseline,
		enriched:    enriched,
		importer:    importer,
		datasetPath: path,
		loadedAt:    time.Now(),
		generation:  current.generation + 1,
	}
	s.state.Store(next)

	s.metrics.IncDatasetReloads(true)
	s.metrics.SetDatasetEntries(float64(ds.Len()))
	s.logger.Info("Alias dataset loaded",
		"path", path,
		"entries", ds.Len(),
		"prefixes", importer.Prefixes(),
		"generation", next.generation)

	return nil
}

// SetIncludeAliasDataset changes the default used when a request leaves the flag unset
func (s *Service) SetIncludeAliasDataset(include bool) {
	s.includeDefault.Store(include)
}

// IncludeAliasDataset returns the current request default
func (s *Service) IncludeAliasDataset() bool {
	return s.includeDefault.Load()
}

// Ready reports whether the rule files are loaded
func (s *Service) Ready() bool {
	return s.state.Load() != nil
}

// Execute classifies the labels of one sample. It returns a nil report when
// there is nothing to report.
func (s *Service) Execute(ctx context.Context, req *model.Request) (*model.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := s.state.Load()
	if st == nil {
		return nil, ErrNotStarted
	}

	startTime := time.Now()
	s.metrics.IncRequests()
	defer func() {
		s.metrics.ObserveProcessingDuration(time.Since(startTime).Seconds())
	}()

	useDataset := s.includeDefault.Load()
	if req.IncludeAliasDataset != nil {
		useDataset = *req.IncludeAliasDataset
	}

	ruleSet, ruleSetName := st.baseline, RuleSetBaseline
	if useDataset {
		if st.enriched != nil {
			ruleSet, ruleSetName = st.enriched, RuleSetAlias
		} else {
			s.logger.Debug("Alias dataset unavailable, using baseline rules", "sha256", req.SHA256)
			useDataset = false
		}
	}

	var cacheKey uint64
	if s.cache != nil {
		cacheKey = store.Fingerprint(st.generation, useDataset, req)
		if cached, ok := s.cache.Get(cacheKey); ok {
			s.metrics.IncCacheHits()
			return s.reissue(cached), nil
		}
		s.metrics.IncCacheMisses()
	}

	verdict, err := ranker.Rank(ruleSet, req.MD5, req.SHA1, req.SHA256, req.Labels)
	if err != nil {
		s.metrics.IncRequestErrors()
		return nil, fmt.Errorf("failed to rank tags: %w", err)
	}
	if verdict == nil {
		s.metrics.IncEmptyResults()
		s.logger.Debug("No tags extracted", "sha256", req.SHA256, "labels", len(req.Labels))
		return nil, nil
	}

	assembler := report.NewAssembler(st.baseline.Translation(), st.importer)
	result := &model.Report{
		ID:          uuid.NewString(),
		SHA256:      req.SHA256,
		RuleSet:     ruleSetName,
		GeneratedAt: time.Now().UTC(),
		Result:      assembler.Build(req.FileType, verdict, useDataset),
	}

	if s.cache != nil {
		s.cache.Add(cacheKey, result)
	}
	s.metrics.IncReports(ruleSetName)
	s.logger.Debug("Report built",
		"sha256", req.SHA256,
		"family", verdict.Family,
		"is_pup", verdict.IsPUP,
		"tags", len(verdict.Tags),
		"rule_set", ruleSetName)

	return result, nil
}

// reissue copies a cached report under a fresh ID and timestamp. The
// section tree is shared and never modified.
func (s *Service) reissue(cached *model.Report) *model.Report {
	copied := *cached
	copied.ID = uuid.NewString()
	copied.GeneratedAt = time.Now().UTC()
	return &copied
}

// Lookup describes a family the way a report would
func (s *Service) Lookup(family, fileType string, useDataset bool) (FamilyInfo, error) {
	st := s.state.Load()
	if st == nil {
		return FamilyInfo{}, ErrNotStarted
	}
	if st.importer == nil {
		useDataset = false
	}

	assembler := report.NewAssembler(st.baseline.Translation(), st.importer)
	info := FamilyInfo{
		Family:     family,
		CommonName: st.importer.CommonName(family, fileType, useDataset),
		AKA:        assembler.AltNames(family, fileType, useDataset),
		Actors:     st.importer.Actors(family, fileType, useDataset),
	}
	if useDataset {
		info.DatasetKey, _ = st.importer.Resolve(family, fileType)
	}
	if info.AKA == nil {
		info.AKA = []string{}
	}
	if info.Actors == nil {
		info.Actors = []string{}
	}

	return info, nil
}

// DatasetStatus reports the active alias dataset
func (s *Service) DatasetStatus() DatasetStatus {
	st := s.state.Load()
	if st == nil || st.importer == nil {
		return DatasetStatus{}
	}
	return DatasetStatus{
		Loaded:     true,
		Path:       st.datasetPath,
		Entries:    st.importer.Dataset().Len(),
		Prefixes:   st.importer.Prefixes(),
		LoadedAt:   st.loadedAt,
		Generation: st.generation,
	}
}
