// Package blocker implements the operator-facing operations: listing the
// blacklist categories and appending a URL to one of them or to the fixed
// direct blacklist. Every call re-reads the squidGuard config and the
// rule-set tree; nothing is cached between requests.
package blocker

import (
	"context"
	"fmt"

	"github.com/haukened/sg-block/internal/block/common/clock"
	"github.com/haukened/sg-block/internal/block/common/log"
	"github.com/haukened/sg-block/internal/block/common/metrics"
	"github.com/haukened/sg-block/internal/block/domain"
)

const (
	targetDirect   = "direct"
	targetCategory = "category"
)

// Service wires the config reader, enumerator, resolver, appender and journal.
type Service struct {
	conf     string
	key      string
	direct   string
	roots    RootReader
	lister   CategoryLister
	resolver PathResolver
	appender Appender
	journal  Journal
	clock    clock.Clock
	logger   log.Logger
}

// Options configures a Service. Journal, Clock and Logger are optional.
type Options struct {
	// SquidGuardConf is the path of the squidGuard configuration file.
	SquidGuardConf string
	// Key names the rule-set root setting; empty means "dbhome".
	Key string
	// DirectBlacklist is the fixed file used by AppendDirect.
	DirectBlacklist string

	Roots    RootReader
	Lister   CategoryLister
	Resolver PathResolver
	Appender Appender
	Journal  Journal
	Clock    clock.Clock
	Logger   log.Logger
}

// Result describes a completed append.
type Result struct {
	URL      domain.CanonicalURL
	Target   string
	Category string
	Bytes    int
	// Seq is the journal sequence, zero when the append was not journaled.
	Seq uint64
}

// Listing is the outcome of ListCategories.
type Listing struct {
	Root       string
	URL        *domain.CanonicalURL
	Categories []domain.Category
	Groups     []domain.CategoryGroup
}

// Empty reports a valid root that holds no categories.
func (l Listing) Empty() bool { return len(l.Categories) == 0 }

// New validates opts and returns a Service.
func New(opts Options) (*Service, error) {
	if opts.Roots == nil || opts.Lister == nil || opts.Resolver == nil || opts.Appender == nil {
		return nil, fmt.Errorf("blocker: config reader, lister, resolver and appender are required")
	}
	s := &Service{
		conf:     opts.SquidGuardConf,
		key:      opts.Key,
		direct:   opts.DirectBlacklist,
		roots:    opts.Roots,
		lister:   opts.Lister,
		resolver: opts.Resolver,
		appender: opts.Appender,
		journal:  opts.Journal,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.logger == nil {
		s.logger = log.NewNoopLogger()
	}
	return s, nil
}

// AppendDirect validates raw and appends it to the direct blacklist file.
func (s *Service) AppendDirect(ctx context.Context, raw string) (Result, error) {
	res, err := s.appendDirect(ctx, raw)
	s.observeAppend(targetDirect, res, err)
	return res, err
}

func (s *Service) appendDirect(ctx context.Context, raw string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if s.direct == "" {
		return Result{}, fmt.Errorf("%w: no direct blacklist file configured", domain.ErrConfig)
	}
	u, err := domain.ValidateURL(raw)
	if err != nil {
		return Result{}, err
	}
	return s.write(ctx, u, s.direct, "")
}

// ListCategories reads the rule-set root and lists its categories. When raw
// is not empty it is validated first and carried in the listing so the caller
// can offer it for classification.
func (s *Service) ListCategories(ctx context.Context, raw string) (Listing, error) {
	l, err := s.listCategories(ctx, raw)
	metrics.ListingsTotal.WithLabelValues(domain.KindOf(err).String()).Inc()
	if err == nil {
		metrics.CategoriesListed.Set(float64(len(l.Categories)))
	}
	return l, err
}

func (s *Service) listCategories(ctx context.Context, raw string) (Listing, error) {
	if err := ctx.Err(); err != nil {
		return Listing{}, err
	}
	var l Listing
	if raw != "" {
		u, err := domain.ValidateURL(raw)
		if err != nil {
			return Listing{}, err
		}
		l.URL = &u
	}
	root, err := s.roots.ReadRuleSetRoot(s.conf, s.key)
	if err != nil {
		s.logger.Warn(map[string]any{"conf": s.conf, "error": err}, "blocker_config_failed")
		return Listing{}, err
	}
	l.Root = root

	cats, err := s.lister.List(root)
	if err != nil {
		s.logger.Warn(map[string]any{"root": root, "error": err}, "blocker_list_failed")
		return Listing{Root: root, URL: l.URL}, err
	}
	l.Categories = cats
	l.Groups = domain.GroupCategories(cats)
	s.logger.Debug(map[string]any{"root": root, "categories": len(cats)}, "blocker_listed")
	return l, nil
}

// AppendToCategory appends raw to the blacklist file selected by token.
//
// The token is resolved before the URL is validated, so a traversal attempt
// is reported as such regardless of the URL.
func (s *Service) AppendToCategory(ctx context.Context, token, raw string) (Result, error) {
	res, err := s.appendToCategory(ctx, token, raw)
	s.observeAppend(targetCategory, res, err)
	return res, err
}

func (s *Service) appendToCategory(ctx context.Context, token, raw string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	root, err := s.roots.ReadRuleSetRoot(s.conf, s.key)
	if err != nil {
		s.logger.Warn(map[string]any{"conf": s.conf, "error": err}, "blocker_config_failed")
		return Result{}, err
	}
	target, err := s.resolver.Resolve(root, token)
	if err != nil {
		return Result{}, err
	}
	u, err := domain.ValidateURL(raw)
	if err != nil {
		return Result{}, err
	}
	return s.write(ctx, u, target, token)
}

// History returns the most recent journaled appends, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.journal == nil {
		return nil, nil
	}
	return s.journal.Recent(limit)
}

func (s *Service) write(ctx context.Context, u domain.CanonicalURL, target, category string) (Result, error) {
	rec := u.Record()
	if err := s.appender.Append(target, rec); err != nil {
		s.logger.Error(map[string]any{"target": target, "url": rec.URL(), "error": err}, "blocker_append_failed")
		return Result{}, err
	}
	res := Result{URL: u, Target: target, Category: category, Bytes: rec.Len()}
	s.logger.Info(map[string]any{"target": target, "url": rec.URL(), "category": category}, "blocker_appended")

	if s.journal == nil {
		return res, nil
	}
	entry, err := domain.NewJournalEntry(rec, target, category, RemoteFrom(ctx), s.clock.Now())
	if err == nil {
		res.Seq, err = s.journal.Record(entry)
	}
	if err != nil {
		// the append already happened; the journal is best effort
		metrics.JournalFailuresTotal.Inc()
		s.logger.Warn(map[string]any{"target": target, "error": err}, "blocker_journal_failed")
	}
	return res, nil
}

func (s *Service) observeAppend(target string, res Result, err error) {
	metrics.AppendsTotal.WithLabelValues(target, domain.KindOf(err).String()).Inc()
	if err == nil {
		metrics.AppendedBytesTotal.Add(float64(res.Bytes))
	}
}
