package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kukipiyo/PiyoXAssistant/internal/constants"
	apperrors "github.com/kukipiyo/PiyoXAssistant/internal/errors"
	"github.com/kukipiyo/PiyoXAssistant/internal/metrics"
	"github.com/kukipiyo/PiyoXAssistant/internal/models"
	"github.com/kukipiyo/PiyoXAssistant/internal/render"
	"github.com/kukipiyo/PiyoXAssistant/internal/schedule"
	"github.com/kukipiyo/PiyoXAssistant/internal/validation"
)

// Store is the persistence boundary for the message table.
type Store interface {
	SaveMessages(ctx context.Context, messages []*models.Message) error
	LoadMessages(ctx context.Context) ([]*models.Message, error)
}

// NextDispatch identifies the next message due for delivery.
type NextDispatch struct {
	ID int64     `json:"id"`
	At time.Time `json:"at"`
}

// Summary is the operator-facing state of the posting service.
type Summary struct {
	AssistMode         bool                  `json:"assistMode"`
	Total              int                   `json:"total"`
	ByStatus           map[models.Status]int `json:"byStatus"`
	DispatchedToday    int                   `json:"dispatchedToday"`
	DispatchedThisWeek int                   `json:"dispatchedThisWeek"`
	Next               *NextDispatch         `json:"next,omitempty"`
}

// PostService owns the in-memory message list and all mutations to it.
// Every exported method takes the service lock; the store holds a durable
// copy that is rewritten after each mutation.
type PostService struct {
	mu         sync.Mutex
	store      Store
	calc       *schedule.Calculator
	dispatcher *Dispatcher
	renderer   *render.Renderer
	logger     *logrus.Logger
	registry   *metrics.Registry

	messages   []*models.Message
	nextID     int64
	assistMode bool

	rateLimitAttempts map[int64]int
	deferred          map[int64]*time.Timer
	recomputeDelay    time.Duration

	minGap        time.Duration
	dailyCeiling  int
	weeklyCeiling int
	dispatchTimes []time.Time
}

func NewPostService(store Store, calc *schedule.Calculator, dispatcher *Dispatcher, renderer *render.Renderer, cfg models.SchedulerConfig, logger *logrus.Logger, registry *metrics.Registry) *PostService {
	return &PostService{
		store:             store,
		calc:              calc,
		dispatcher:        dispatcher,
		renderer:          renderer,
		logger:            logger,
		registry:          registry,
		nextID:            1,
		assistMode:        !cfg.AutoDispatch,
		rateLimitAttempts: make(map[int64]int),
		deferred:          make(map[int64]*time.Timer),
		recomputeDelay:    time.Duration(cfg.RecomputeDelaySec) * time.Second,
		minGap:            time.Duration(cfg.MinGapMinutes) * time.Minute,
		dailyCeiling:      cfg.DailyCeiling,
		weeklyCeiling:     cfg.WeeklyCeiling,
	}
}

// Load restores the message list from the store and reschedules anything
// whose computed time no longer makes sense after downtime.
func (s *PostService) Load(ctx context.Context) error {
	messages, err := s.store.LoadMessages(ctx)
	if err != nil {
		return apperrors.NewStoreError("load messages", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = messages
	s.nextID = 1
	s.dispatchTimes = nil
	for _, msg := range messages {
		if msg.ID >= s.nextID {
			s.nextID = msg.ID + 1
		}
		// Rate ceilings survive a restart only if the dispatch history
		// is rebuilt from the persisted timestamps.
		if msg.LastDispatchedAt != nil {
			s.dispatchTimes = append(s.dispatchTimes, *msg.LastDispatchedAt)
		}
	}
	s.pruneDispatchTimesLocked(s.calc.Now())
	s.computeScheduleLocked()
	s.logger.WithField("count", len(messages)).Info("Messages loaded from store")
	return s.persistLocked(ctx)
}

// Messages returns a deep copy of the full list.
func (s *PostService) Messages() []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Message, len(s.messages))
	for i, msg := range s.messages {
		out[i] = msg.Clone()
	}
	return out
}

// Message returns one message by id.
func (s *PostService) Message(id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findLocked(id)
	if msg == nil {
		return nil, apperrors.NewNotFoundError("message", id)
	}
	return msg.Clone(), nil
}

// AddMessage validates and appends a new message, scheduling it
// immediately.
func (s *PostService) AddMessage(ctx context.Context, content, baseTime string, jitterMinutes int, datePattern string) (*models.Message, error) {
	content, err := validation.ValidateContent(content)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateBaseTime(baseTime); err != nil {
		return nil, err
	}
	if err := validation.ValidateJitter(jitterMinutes); err != nil {
		return nil, err
	}
	if err := validation.ValidateDatePattern(datePattern); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &models.Message{
		ID:            s.nextID,
		Content:       content,
		BaseTime:      baseTime,
		JitterMinutes: jitterMinutes,
		DatePattern:   datePattern,
		Status:        models.StatusPending,
	}
	s.nextID++
	s.messages = append(s.messages, msg)
	s.scheduleMessageLocked(msg)

	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

// ReplaceAll swaps the entire list for an imported one. Existing messages
// and their deferred recomputes are discarded.
func (s *PostService) ReplaceAll(ctx context.Context, messages []*models.Message) error {
	for _, msg := range messages {
		content, err := validation.ValidateContent(msg.Content)
		if err != nil {
			return err
		}
		msg.Content = content
		if err := validation.ValidateBaseTime(msg.BaseTime); err != nil {
			return err
		}
		if err := validation.ValidateJitter(msg.JitterMinutes); err != nil {
			return err
		}
		if err := validation.ValidateDatePattern(msg.DatePattern); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.deferred {
		timer.Stop()
		delete(s.deferred, id)
	}
	s.rateLimitAttempts = make(map[int64]int)

	s.messages = make([]*models.Message, 0, len(messages))
	s.nextID = 1
	for _, msg := range messages {
		clone := msg.Clone()
		clone.ID = s.nextID
		clone.Status = models.StatusPending
		clone.NextDispatchAt = nil
		clone.LastDispatchedAt = nil
		s.nextID++
		s.messages = append(s.messages, clone)
	}
	s.computeScheduleLocked()

	s.logger.WithField("count", len(s.messages)).Info("Message list replaced")
	return s.persistLocked(ctx)
}

// ComputeSchedule recomputes dispatch times for every pending message and
// returns how many ended up scheduled.
func (s *PostService) ComputeSchedule(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scheduled := s.computeScheduleLocked()
	if err := s.persistLocked(ctx); err != nil {
		return 0, err
	}
	return scheduled, nil
}

// EditContent updates the text of a message without touching its schedule.
func (s *PostService) EditContent(ctx context.Context, id int64, content string) (*models.Message, error) {
	content, err := validation.ValidateContent(content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findLocked(id)
	if msg == nil {
		return nil, apperrors.NewNotFoundError("message", id)
	}
	msg.Content = content

	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

// EditTime updates base time and jitter and recomputes the schedule. A
// failed or skipped message becomes schedulable again.
func (s *PostService) EditTime(ctx context.Context, id int64, baseTime string, jitterMinutes int) (*models.Message, error) {
	if err := validation.ValidateBaseTime(baseTime); err != nil {
		return nil, err
	}
	if err := validation.ValidateJitter(jitterMinutes); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findLocked(id)
	if msg == nil {
		return nil, apperrors.NewNotFoundError("message", id)
	}
	msg.BaseTime = baseTime
	msg.JitterMinutes = jitterMinutes
	s.reactivateLocked(msg)

	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

// EditPattern updates the date pattern and recomputes the schedule.
func (s *PostService) EditPattern(ctx context.Context, id int64, datePattern string) (*models.Message, error) {
	if err := validation.ValidateDatePattern(datePattern); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findLocked(id)
	if msg == nil {
		return nil, apperrors.NewNotFoundError("message", id)
	}
	msg.DatePattern = datePattern
	s.reactivateLocked(msg)

	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

// Postpone pushes a message's next dispatch to now plus the given number
// of minutes, regardless of its pattern.
func (s *PostService) Postpone(ctx context.Context, id int64, minutes int) (*models.Message, error) {
	if err := validation.ValidatePostponeMinutes(minutes); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findLocked(id)
	if msg == nil {
		return nil, apperrors.NewNotFoundError("message", id)
	}

	next := s.calc.Now().Add(time.Duration(minutes) * time.Minute)
	msg.Status = models.StatusScheduled
	msg.NextDispatchAt = &next

	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

// DeleteMessage removes a message and cancels any deferred recompute.
func (s *PostService) DeleteMessage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, msg := range s.messages {
		if msg.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apperrors.NewNotFoundError("message", id)
	}

	if timer, ok := s.deferred[id]; ok {
		timer.Stop()
		delete(s.deferred, id)
	}
	delete(s.rateLimitAttempts, id)
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)

	return s.persistLocked(ctx)
}

// DuplicateMessage copies a message's template into a new pending entry
// and schedules it.
func (s *PostService) DuplicateMessage(ctx context.Context, id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.findLocked(id)
	if src == nil {
		return nil, apperrors.NewNotFoundError("message", id)
	}

	msg := &models.Message{
		ID:            s.nextID,
		Content:       src.Content,
		BaseTime:      src.BaseTime,
		JitterMinutes: src.JitterMinutes,
		DatePattern:   src.DatePattern,
		Status:        models.StatusPending,
	}
	s.nextID++
	s.messages = append(s.messages, msg)
	s.scheduleMessageLocked(msg)

	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

// MarkManuallyDispatched records that the operator posted the message by
// hand. A recurring message gets its next occurrence scheduled after the
// usual post-success floor.
func (s *PostService) MarkManuallyDispatched(ctx context.Context, id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.findLocked(id)
	if msg == nil {
		return nil, apperrors.NewNotFoundError("message", id)
	}

	now := s.calc.Now()
	msg.Status = models.StatusManuallyDispatched
	msg.LastDispatchedAt = &now
	msg.NextDispatchAt = nil
	delete(s.rateLimitAttempts, id)

	if msg.Kind() == models.KindRecurring {
		s.scheduleRecomputeLocked(id)
	}

	if err := s.persistLocked(ctx); err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

// PreviewMessage renders a message's template without dispatching it.
func (s *PostService) PreviewMessage(ctx context.Context, id int64) (*render.Preview, error) {
	s.mu.Lock()
	msg := s.findLocked(id)
	if msg == nil {
		s.mu.Unlock()
		return nil, apperrors.NewNotFoundError("message", id)
	}
	content := msg.Content
	s.mu.Unlock()

	return s.renderer.DryRun(ctx, content), nil
}

// SetAssistMode switches between automatic dispatch and manual
// confirmation.
func (s *PostService) SetAssistMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assistMode = enabled
	s.logger.WithField("assistMode", enabled).Info("Assist mode changed")
}

// AssistMode reports whether automatic dispatch is suspended.
func (s *PostService) AssistMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assistMode
}

// Status summarizes the message list and recent dispatch volume.
func (s *PostService) Status() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.calc.Now()
	s.pruneDispatchTimesLocked(now)

	summary := &Summary{
		AssistMode:         s.assistMode,
		Total:              len(s.messages),
		ByStatus:           make(map[models.Status]int),
		DispatchedThisWeek: len(s.dispatchTimes),
	}
	for _, ts := range s.dispatchTimes {
		if sameDay(ts, now) {
			summary.DispatchedToday++
		}
	}
	for _, msg := range s.messages {
		summary.ByStatus[msg.Status]++
		if msg.Status == models.StatusScheduled && msg.NextDispatchAt != nil {
			if summary.Next == nil || msg.NextDispatchAt.Before(summary.Next.At) {
				summary.Next = &NextDispatch{ID: msg.ID, At: *msg.NextDispatchAt}
			}
		}
	}
	return summary
}

// Stop cancels all deferred recompute timers.
func (s *PostService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.deferred {
		timer.Stop()
		delete(s.deferred, id)
	}
}

// Tick runs one scheduler pass: sweep stale slots, then dispatch at most
// one due message if the rate ceilings allow it.
func (s *PostService) Tick(ctx context.Context) {
	s.mu.Lock()

	// Assist mode and a missing publisher credential suspend the loop
	// outright. No sweep, no dispatch, no mutation of any kind.
	if s.assistMode {
		s.logger.Debug("Assist mode active, tick suspended")
		s.mu.Unlock()
		return
	}
	if !s.dispatcher.Ready() {
		s.logger.Warn("Publisher not configured, tick suspended")
		s.mu.Unlock()
		return
	}

	now := s.calc.Now()
	swept := s.sweepStaleLocked(now)
	if swept > 0 {
		if err := s.persistLocked(ctx); err != nil {
			s.logger.WithError(err).Error("Failed to persist after stale sweep")
		}
	}

	due := s.earliestDueLocked(now)
	if due == nil {
		s.mu.Unlock()
		return
	}

	if reason := s.ceilingViolationLocked(now); reason != "" {
		s.registry.Inc("dispatch_deferred_total", map[string]string{"reason": reason})
		s.logger.WithFields(logrus.Fields{
			"messageId": due.ID,
			"reason":    reason,
		}).Info("Dispatch deferred by rate ceiling")
		s.mu.Unlock()
		return
	}

	candidate := due.Clone()
	s.mu.Unlock()

	result := s.dispatcher.Dispatch(ctx, candidate)

	s.mu.Lock()
	s.applyOutcomeLocked(candidate.ID, result, s.calc.Now())
	if err := s.persistLocked(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to persist after dispatch")
	}
	s.mu.Unlock()
}

func (s *PostService) findLocked(id int64) *models.Message {
	for _, msg := range s.messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// scheduleMessageLocked computes the next slot for a pending message,
// marking an elapsed one-shot as skipped.
func (s *PostService) scheduleMessageLocked(msg *models.Message) {
	next, ok := s.calc.ComputeNext(msg)
	if !ok {
		msg.Status = models.StatusSkipped
		msg.NextDispatchAt = nil
		s.logger.WithFields(logrus.Fields{
			"messageId": msg.ID,
			"pattern":   msg.DatePattern,
		}).Info("Message has no future occurrence, skipping")
		return
	}
	msg.Status = models.StatusScheduled
	msg.NextDispatchAt = &next
}

func (s *PostService) reactivateLocked(msg *models.Message) {
	delete(s.rateLimitAttempts, msg.ID)
	msg.Status = models.StatusPending
	s.scheduleMessageLocked(msg)
}

func (s *PostService) computeScheduleLocked() int {
	scheduled := 0
	for _, msg := range s.messages {
		needsTime := msg.Status == models.StatusScheduled && msg.NextDispatchAt == nil
		if msg.Status != models.StatusPending && !needsTime {
			continue
		}
		s.scheduleMessageLocked(msg)
		if msg.Status == models.StatusScheduled {
			scheduled++
		}
	}
	s.registry.SetGauge("scheduled_messages", float64(scheduled), nil)
	return scheduled
}

// sweepStaleLocked corrects scheduled times the process slept through:
// more than a day late means the slot is meaningless (recompute or skip),
// one hour to a day late pushes recurring slots a week out.
func (s *PostService) sweepStaleLocked(now time.Time) int {
	swept := 0
	for _, msg := range s.messages {
		if msg.Status != models.StatusScheduled || msg.NextDispatchAt == nil {
			continue
		}
		late := now.Sub(*msg.NextDispatchAt)
		if late <= time.Hour {
			continue
		}

		if late > constants.StaleAfterHours*time.Hour {
			swept++
			if msg.Kind() == models.KindSpecific {
				msg.Status = models.StatusSkipped
				msg.NextDispatchAt = nil
				s.logger.WithField("messageId", msg.ID).Info("One-shot slot missed, skipping")
			} else {
				msg.Status = models.StatusPending
				s.scheduleMessageLocked(msg)
				s.logger.WithField("messageId", msg.ID).Info("Stale slot recomputed")
			}
			continue
		}

		// One to twenty-four hours late. One-shots keep their slot until
		// the full day has elapsed; recurring slots move a week out.
		if msg.Kind() == models.KindSpecific {
			continue
		}
		swept++
		pushed := s.calc.PushToNextWeek(*msg.NextDispatchAt)
		msg.NextDispatchAt = &pushed
		s.logger.WithFields(logrus.Fields{
			"messageId": msg.ID,
			"next":      pushed,
		}).Info("Missed slot pushed to next week")
	}
	return swept
}

func (s *PostService) earliestDueLocked(now time.Time) *models.Message {
	// A slot is due only within a minute either side of now. Older slots
	// missed their window and are left to the stale sweep.
	earliest := now.Add(-constants.DispatchToleranceSec * time.Second)
	latest := now.Add(constants.DispatchToleranceSec * time.Second)

	var due *models.Message
	for _, msg := range s.messages {
		if msg.Status != models.StatusScheduled || msg.NextDispatchAt == nil {
			continue
		}
		if msg.NextDispatchAt.After(latest) || msg.NextDispatchAt.Before(earliest) {
			continue
		}
		if due == nil || msg.NextDispatchAt.Before(*due.NextDispatchAt) {
			due = msg
		}
	}
	return due
}

func (s *PostService) ceilingViolationLocked(now time.Time) string {
	s.pruneDispatchTimesLocked(now)

	today := 0
	for _, ts := range s.dispatchTimes {
		if now.Sub(ts) < s.minGap {
			return "minGap"
		}
		if sameDay(ts, now) {
			today++
		}
	}
	if s.dailyCeiling > 0 && today >= s.dailyCeiling {
		return "daily"
	}
	if s.weeklyCeiling > 0 && len(s.dispatchTimes) >= s.weeklyCeiling {
		return "weekly"
	}
	return ""
}

func (s *PostService) pruneDispatchTimesLocked(now time.Time) {
	cutoff := now.AddDate(0, 0, -7)
	kept := s.dispatchTimes[:0]
	for _, ts := range s.dispatchTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.dispatchTimes = kept
}

func (s *PostService) applyOutcomeLocked(id int64, result *DispatchResult, now time.Time) {
	msg := s.findLocked(id)
	if msg == nil {
		return
	}

	switch result.Outcome {
	case OutcomeSuccess:
		msg.Status = models.StatusDispatched
		msg.LastDispatchedAt = &now
		msg.NextDispatchAt = nil
		delete(s.rateLimitAttempts, id)
		s.dispatchTimes = append(s.dispatchTimes, now)
		if msg.Kind() == models.KindRecurring {
			s.scheduleRecomputeLocked(id)
		}

	case OutcomeRateLimited:
		s.rateLimitAttempts[id]++
		attempt := s.rateLimitAttempts[id]
		var next time.Time
		if attempt <= constants.MaxRateLimitRetries {
			next = now.Add(time.Duration(attempt*constants.RateLimitRetryStepMinutes) * time.Minute)
		} else {
			next = now.Add(constants.RateLimitDeferralMinutes * time.Minute)
			delete(s.rateLimitAttempts, id)
		}
		msg.NextDispatchAt = &next
		s.logger.WithFields(logrus.Fields{
			"messageId": id,
			"attempt":   attempt,
			"next":      next,
		}).Warn("Rate limited, dispatch rescheduled")

	case OutcomeForbidden:
		msg.Status = models.StatusFailed
		msg.NextDispatchAt = nil
		delete(s.rateLimitAttempts, id)

	case OutcomeUnauthorized:
		msg.Status = models.StatusFailed
		msg.NextDispatchAt = nil
		delete(s.rateLimitAttempts, id)
		s.logger.Error("Publish credentials rejected, check the bearer token")

	case OutcomeTransient:
		if msg.Kind() == models.KindRecurring {
			next := now.Add(constants.TransientRetryHours * time.Hour)
			msg.NextDispatchAt = &next
		} else {
			msg.Status = models.StatusFailed
			msg.NextDispatchAt = nil
		}
	}
}

// scheduleRecomputeLocked arms a short timer that computes a recurring
// message's next occurrence after the dispatch settles. The delay lets a
// burst of state changes (manual edits right after posting) win over the
// automatic recompute.
func (s *PostService) scheduleRecomputeLocked(id int64) {
	if timer, ok := s.deferred[id]; ok {
		timer.Stop()
	}
	s.deferred[id] = time.AfterFunc(s.recomputeDelay, func() {
		s.recomputeAfterDispatch(id)
	})
}

func (s *PostService) recomputeAfterDispatch(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.deferred, id)

	msg := s.findLocked(id)
	if msg == nil || msg.Kind() != models.KindRecurring {
		return
	}
	if msg.Status != models.StatusDispatched && msg.Status != models.StatusManuallyDispatched {
		return
	}

	next, ok := s.calc.ComputeNextAfter(msg, s.calc.PostSuccessFloor())
	if !ok {
		msg.Status = models.StatusSkipped
		msg.NextDispatchAt = nil
	} else {
		msg.Status = models.StatusScheduled
		msg.NextDispatchAt = &next
	}

	if err := s.persistLocked(context.Background()); err != nil {
		s.logger.WithError(err).Error("Failed to persist deferred recompute")
	}
}

func (s *PostService) persistLocked(ctx context.Context) error {
	if err := s.store.SaveMessages(ctx, s.messages); err != nil {
		return apperrors.NewStoreError("save messages", err)
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
