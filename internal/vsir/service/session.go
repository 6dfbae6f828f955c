package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/form"
	"github.com/sooshee9/AIR01/internal/vsir/refcache"
	"github.com/sooshee9/AIR01/internal/vsir/reconcile"
	"github.com/sooshee9/AIR01/internal/vsir/store"
)

var (
	ErrNotAuthenticated = errors.New("not signed in")
	ErrSessionClosed    = errors.New("session closed")
	ErrRecordNotFound   = errors.New("vsir record not found")
)

// Publisher pushes session changes to connected clients.
type Publisher interface {
	Records(userID string, records []entity.Record)
	Notice(userID string, n reconcile.Notice)
	Confirm(userID string, p PendingConfirmation)
}

type nopPublisher struct{}

func (nopPublisher) Records(string, []entity.Record)     {}
func (nopPublisher) Notice(string, reconcile.Notice)     {}
func (nopPublisher) Confirm(string, PendingConfirmation) {}

// Toggles are the operator's bulk-operation switches.
type Toggles struct {
	AutoImport bool `json:"auto_import"`
	AutoDelete bool `json:"auto_delete"`
}

// Session is one operator's event loop. Every engine and form mutation runs
// on the loop goroutine; readers get copies published under mu.
type Session struct {
	userID  string
	logger  *zap.Logger
	records store.RecordStore

	cache  *refcache.Cache
	engine *reconcile.Engine
	form   *form.Form
	pub    Publisher
	audit  *ActivityService

	inbox  *mailbox
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	snapshot []entity.Record
	formView form.State
	toggles  Toggles
}

type sessionDeps struct {
	records    store.RecordStore
	docs       store.DocumentStore
	dispatcher reconcile.Dispatcher
	confirms   *ConfirmService
	publisher  Publisher
	audit      *ActivityService
	logger     *zap.Logger
	buffer     int
}

func newSession(userID string, d sessionDeps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		userID:   userID,
		logger:   d.logger.With(zap.String("user_id", userID)),
		records:  d.records,
		pub:      d.publisher,
		audit:    d.audit,
		inbox:    newMailbox(d.buffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		snapshot: []entity.Record{},
	}
	s.cache = refcache.New(d.records, d.docs, func(dl refcache.Delivery) {
		s.post(func() { s.deliver(dl) })
	}, s.logger)

	var confirmer reconcile.Confirmer = reconcile.Always(false)
	if d.confirms != nil {
		confirmer = d.confirms.For(userID)
	}
	s.engine = reconcile.New(reconcile.Config{
		Source:     s.cache,
		Dispatcher: d.dispatcher,
		Confirmer:  confirmer,
		Logger:     s.logger,
		Post: func(res reconcile.Result) {
			s.post(func() { s.engine.Complete(res) })
		},
		OnChange: s.publishRecords,
		OnNotice: func(n reconcile.Notice) { s.pub.Notice(userID, n) },
		OnResult: s.audit.LogResult,
	})
	s.form = form.New(s.cache)
	return s
}

// start runs the loop and subscribes the operator's collections.
func (s *Session) start() error {
	go s.loop()
	return s.call(s.ctx, func() error {
		return s.cache.SetIdentity(s.ctx, s.userID)
	})
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		for _, fn := range s.inbox.drain() {
			fn()
		}
		if s.inbox.isClosed() {
			// run what was queued before close
			for _, fn := range s.inbox.drain() {
				fn()
			}
			return
		}
		<-s.inbox.signal
	}
}

func (s *Session) post(fn func()) bool {
	return s.inbox.push(fn)
}

// call runs fn on the loop and waits for it.
func (s *Session) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !s.post(func() { errc <- fn() }) {
		return ErrSessionClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

// stop tears the subscriptions down, then ends the loop. Pending
// confirmations of this session read as declined.
func (s *Session) stop() {
	s.cancel()
	s.post(func() {
		if err := s.cache.SetIdentity(context.Background(), ""); err != nil {
			s.logger.Warn("clear identity failed", zap.Error(err))
		}
		s.engine.Reset()
		s.form.Reset()
		s.publishForm()
	})
	s.inbox.close()
	<-s.done
	s.cache.Close()
}

func (s *Session) deliver(d refcache.Delivery) {
	if !s.cache.Apply(d) {
		return
	}
	if d.Collection == entity.CollectionRecords {
		s.engine.HandleRecords(s.ctx, d.Records)
		return
	}
	s.engine.HandleReference(s.ctx, d.Collection)
}

func (s *Session) publishRecords(records []entity.Record) {
	s.mu.Lock()
	s.snapshot = records
	s.mu.Unlock()
	s.pub.Records(s.userID, entity.CloneRecords(records))
}

func (s *Session) publishForm() {
	st := s.form.State()
	s.mu.Lock()
	s.formView = st
	s.mu.Unlock()
}

func (s *Session) UserID() string { return s.userID }

// Records returns the current record set.
func (s *Session) Records() []entity.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entity.CloneRecords(s.snapshot)
}

// Ready reports whether every collection has delivered its first snapshot.
func (s *Session) Ready() bool {
	if !s.cache.Loaded(entity.CollectionRecords) {
		return false
	}
	for _, coll := range entity.ReferenceCollections {
		if !s.cache.Loaded(coll) {
			return false
		}
	}
	return true
}

func (s *Session) Form() form.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.formView
}

func (s *Session) Toggles() Toggles {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.toggles
}

func (s *Session) ItemMaster(ctx context.Context, refresh bool) ([]entity.ItemMasterEntry, error) {
	if refresh {
		if err := s.cache.Fetch(ctx, entity.CollectionItemMaster); err != nil {
			return nil, err
		}
	}
	return s.cache.ItemMaster(), nil
}

// SetToggles applies the switches present in the request. Turning a switch
// on runs its rule, which may block on a confirmation.
func (s *Session) SetToggles(ctx context.Context, autoImport, autoDelete *bool) (Toggles, error) {
	var out Toggles
	err := s.call(ctx, func() error {
		if autoImport != nil {
			s.engine.SetAutoImport(s.ctx, *autoImport)
		}
		if autoDelete != nil {
			s.engine.SetAutoDelete(s.ctx, *autoDelete)
		}
		out.AutoImport, out.AutoDelete = s.engine.Toggles()
		s.mu.Lock()
		s.toggles = out
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		return Toggles{}, err
	}
	s.logger.Info("vsir toggles updated", zap.Bool("auto_import", out.AutoImport), zap.Bool("auto_delete", out.AutoDelete))
	return out, nil
}

// UpdateForm applies field edits to the form.
func (s *Session) UpdateForm(ctx context.Context, fields map[string]interface{}) (form.State, error) {
	var out form.State
	err := s.call(ctx, func() error {
		s.form.Set(fields)
		s.publishForm()
		out = s.form.State()
		return nil
	})
	if err != nil {
		return form.State{}, err
	}
	return out, nil
}

// EditRecord loads a record into the form.
func (s *Session) EditRecord(ctx context.Context, id string) (form.State, error) {
	var out form.State
	err := s.call(ctx, func() error {
		for _, r := range s.engine.Records() {
			if r.ID == id {
				s.form.Edit(r)
				s.publishForm()
				out = s.form.State()
				return nil
			}
		}
		return ErrRecordNotFound
	})
	if err != nil {
		return form.State{}, err
	}
	return out, nil
}

func (s *Session) ResetForm(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.form.Reset()
		s.publishForm()
		return nil
	})
}

// GenerateVendorBatch fills the form's vendor batch number with the next one.
func (s *Session) GenerateVendorBatch(ctx context.Context) (string, error) {
	var next string
	err := s.call(ctx, func() error {
		next = s.form.GenerateVendorBatch(s.engine.Records())
		s.publishForm()
		return nil
	})
	if err != nil {
		return "", err
	}
	return next, nil
}

// NextVendorBatchNo previews the next number without touching the form.
func (s *Session) NextVendorBatchNo(ctx context.Context) (string, error) {
	var next string
	err := s.call(ctx, func() error {
		f := form.New(s.cache)
		next = f.GenerateVendorBatch(s.engine.Records())
		return nil
	})
	if err != nil {
		return "", err
	}
	return next, nil
}

// SubmitForm stores the form. Failures leave the form as it was.
func (s *Session) SubmitForm(ctx context.Context) (entity.Record, error) {
	var out entity.Record
	var action string
	err := s.call(ctx, func() error {
		action = entity.ActionSubmitCreate
		if s.form.State().EditingID != "" {
			action = entity.ActionSubmitUpdate
		}
		rec, err := s.form.Submit(s.ctx, s.userID, s.records, s.engine.Records())
		if err != nil {
			s.pub.Notice(s.userID, reconcile.Notice{Level: "error", Message: err.Error()})
			return err
		}
		s.publishForm()
		out = rec
		return nil
	})
	if err != nil {
		return entity.Record{}, err
	}
	s.logger.Info("vsir record submitted", zap.String("record_id", out.ID), zap.String("key", out.Key()))
	s.audit.Log(s.userID, action, "record", out.ID, fmt.Sprintf("submit %s", out.Key()), nil)
	return out, nil
}

// DeleteRecord removes one record.
func (s *Session) DeleteRecord(ctx context.Context, id string) error {
	if err := s.records.Delete(ctx, s.userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("delete vsir record: %w", err)
	}
	s.logger.Info("vsir record deleted", zap.String("record_id", id))
	s.audit.Log(s.userID, entity.ActionDelete, "record", id, "delete "+id, nil)
	return nil
}
