// Package session holds the client-side view of the chat: optimistic sends, periodic
// tail reads and the merge between them.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/chatlog/internal/chat"
	"github.com/MarcoPoloResearchLab/chatlog/internal/identity"
	"github.com/MarcoPoloResearchLab/chatlog/internal/protocol"
	"go.uber.org/zap"
)

// DefaultPollInterval is the period between tail reads.
const DefaultPollInterval = 5 * time.Second

var (
	ErrBlankText        = errors.New("session: message text is blank")
	ErrWriteInFlight    = errors.New("session: a write is already in flight")
	ErrNoIdentity       = errors.New("session: identity not established")
	errMissingTransport = errors.New("session: transport is required")
)

// Transport performs the sync protocol calls. Implementations bound each call in time.
type Transport interface {
	Read(ctx context.Context) ([]protocol.MessagePayload, error)
	Write(ctx context.Context, text, author string) (protocol.WriteResponse, error)
}

// Config describes a Session.
type Config struct {
	Transport Transport
	Identity  identity.Identity
	Clock     func() time.Time
	Logger    *zap.Logger
}

type localEntry struct {
	Entry
	// confirmedAfter is the last poll sequence started before the write was confirmed.
	confirmedAfter uint64
	// baselineID is the newest server id known when the entry was submitted; -1 when no
	// read had been applied yet.
	baselineID int64
	// shadowID is the server copy of a still-sending entry, matched on author and text.
	shadowID int64
}

// Session is safe for concurrent use by a send path and a poll loop.
type Session struct {
	transport Transport
	clock     func() time.Time
	logger    *zap.Logger
	feed      *changeFeed

	mu           sync.Mutex
	identity     identity.Identity
	confirmed    []Entry
	local        []localEntry
	pinnedKey    string
	pinnedCopy   Entry
	writing      bool
	lastClientID int64
	pollSeq      uint64
	appliedSeq   uint64
	ping         time.Duration
	hasPing      bool
}

func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		transport: cfg.Transport,
		clock:     clock,
		logger:    logger,
		feed:      newChangeFeed(),
		identity:  cfg.Identity,
	}, nil
}

// SetIdentity establishes the author used for submissions and own/other attribution.
func (s *Session) SetIdentity(id identity.Identity) {
	s.mu.Lock()
	s.identity = id
	for index := range s.confirmed {
		s.confirmed[index].Own = !id.IsZero() && s.confirmed[index].Author == id.String()
	}
	view := s.snapshotLocked()
	s.mu.Unlock()
	s.feed.publish(view)
}

// Subscribe streams a snapshot after every change until ctx ends or cleanup is called.
func (s *Session) Subscribe(ctx context.Context) (<-chan View, func()) {
	return s.feed.subscribe(ctx)
}

// Submit appends an optimistic entry and writes it. It returns an error only when the
// submission is rejected before anything is shown; a failed write yields a failed entry.
func (s *Session) Submit(ctx context.Context, text string) (Entry, error) {
	if strings.TrimSpace(text) == "" {
		return Entry{}, ErrBlankText
	}

	s.mu.Lock()
	if s.identity.IsZero() {
		s.mu.Unlock()
		return Entry{}, ErrNoIdentity
	}
	if s.writing {
		s.mu.Unlock()
		return Entry{}, ErrWriteInFlight
	}
	clientID := s.clock().UnixMilli()
	if clientID <= s.lastClientID {
		clientID = s.lastClientID + 1
	}
	s.lastClientID = clientID
	author := s.identity.String()
	baselineID := int64(-1)
	if s.appliedSeq > 0 {
		baselineID = s.newestConfirmedIDLocked()
	}
	s.local = append(s.local, localEntry{
		Entry: Entry{
			ClientID: clientID,
			Text:     text,
			Author:   author,
			Status:   StatusSending,
			Own:      true,
		},
		baselineID: baselineID,
	})
	s.writing = true
	view := s.snapshotLocked()
	s.mu.Unlock()
	s.feed.publish(view)

	response, err := s.transport.Write(ctx, text, author)
	return s.OnWriteResult(clientID, response, err), nil
}

// OnWriteResult settles the entry created with clientID. The returned entry reflects
// its final state; it is zero when no such entry exists.
func (s *Session) OnWriteResult(clientID int64, response protocol.WriteResponse, writeErr error) Entry {
	s.mu.Lock()
	s.writing = false

	index := s.localIndexLocked(clientID)
	if index < 0 {
		view := s.snapshotLocked()
		s.mu.Unlock()
		s.feed.publish(view)
		return Entry{}
	}

	entry := &s.local[index]
	if entry.Status != StatusSending {
		result := entry.Entry
		view := s.snapshotLocked()
		s.mu.Unlock()
		s.feed.publish(view)
		return result
	}

	if writeErr != nil || response.Error != "" {
		s.logger.Debug("write failed", zap.Int64("client_id", clientID), zap.Error(writeErr), zap.String("error", response.Error))
		entry.Status = StatusFailed
		entry.Text += failedSuffix
	} else {
		entry.Status = StatusSent
		entry.Time = response.Time
		if response.Message != nil {
			entry.ServerID = response.Message.ID
			if entry.Time == "" {
				entry.Time = response.Message.Time
			}
		}
		if entry.ServerID == 0 && entry.shadowID != 0 {
			entry.ServerID = entry.shadowID
		}
		if entry.Time == "" {
			entry.Time = chat.FormatTime(s.clock())
		}
		entry.confirmedAfter = s.pollSeq
		if entry.ServerID != 0 {
			s.movePinLocked(clientKey(clientID), entry.ServerID)
		}
	}
	entry.shadowID = 0

	result := entry.Entry
	if entry.Status == StatusSent && entry.ServerID != 0 && s.confirmedHasLocked(entry.ServerID) {
		s.local = append(s.local[:index], s.local[index+1:]...)
	}
	view := s.snapshotLocked()
	s.mu.Unlock()
	s.feed.publish(view)
	return result
}

// OnPeriodicRead merges a freshly read tail into the view.
func (s *Session) OnPeriodicRead(tail []protocol.MessagePayload) {
	s.mu.Lock()
	s.pollSeq++
	seq := s.pollSeq
	s.mu.Unlock()
	s.applyRead(seq, tail, 0, false)
}

// Poll reads the tail once. On error the view is left unchanged.
func (s *Session) Poll(ctx context.Context) error {
	s.mu.Lock()
	s.pollSeq++
	seq := s.pollSeq
	s.mu.Unlock()

	started := s.clock()
	tail, err := s.transport.Read(ctx)
	if err != nil {
		s.logger.Debug("poll failed", zap.Uint64("sequence", seq), zap.Error(err))
		return err
	}
	s.applyRead(seq, tail, s.clock().Sub(started), true)
	return nil
}

// Run polls immediately and then every interval until ctx is done. Polls are not
// cancelled when a newer one starts.
func (s *Session) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	var wg sync.WaitGroup
	poll := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Poll(ctx)
		}()
	}

	poll()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			poll()
		}
	}
}

// TogglePin pins the entry with key, replacing any previous pin, or unpins it when it
// is already pinned. It reports whether the entry is pinned afterwards. A pin follows its
// entry when a confirmation gives the entry a server id.
func (s *Session) TogglePin(key string) bool {
	s.mu.Lock()
	if s.pinnedKey != "" && s.pinnedKey == key {
		s.pinnedKey = ""
		view := s.snapshotLocked()
		s.mu.Unlock()
		s.feed.publish(view)
		return false
	}
	found := false
	for _, entry := range s.entriesLocked() {
		if entry.Key() == key {
			s.pinnedKey = key
			s.pinnedCopy = entry
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return false
	}
	view := s.snapshotLocked()
	s.mu.Unlock()
	s.feed.publish(view)
	return true
}

func (s *Session) Unpin() {
	s.mu.Lock()
	s.pinnedKey = ""
	view := s.snapshotLocked()
	s.mu.Unlock()
	s.feed.publish(view)
}

// View returns the current snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) applyRead(seq uint64, tail []protocol.MessagePayload, rtt time.Duration, measured bool) {
	s.mu.Lock()
	if seq <= s.appliedSeq {
		s.mu.Unlock()
		s.logger.Debug("dropping superseded read", zap.Uint64("sequence", seq))
		return
	}
	s.appliedSeq = seq
	if measured {
		s.ping = rtt
		s.hasPing = true
	}

	self := s.identity.String()
	confirmed := make([]Entry, 0, len(tail))
	known := make(map[int64]struct{}, len(tail))
	var oldest int64
	for _, message := range tail {
		confirmed = append(confirmed, Entry{
			ServerID: message.ID,
			Text:     message.Text,
			Author:   message.From,
			Time:     message.Time,
			Status:   StatusSent,
			Own:      self != "" && message.From == self,
		})
		known[message.ID] = struct{}{}
		if oldest == 0 || message.ID < oldest {
			oldest = message.ID
		}
	}

	claimed := make(map[int64]struct{}, len(s.local))
	for _, entry := range s.local {
		if entry.ServerID != 0 {
			claimed[entry.ServerID] = struct{}{}
		}
	}

	kept := s.local[:0]
	for _, entry := range s.local {
		switch entry.Status {
		case StatusSent:
			if reflected, matchedID := reflectedIn(entry.Entry, entry.confirmedAfter, seq, known, oldest, tail); reflected {
				if entry.ServerID == 0 && matchedID != 0 {
					s.movePinLocked(clientKey(entry.ClientID), matchedID)
				}
				continue
			}
		case StatusSending:
			if entry.shadowID == 0 || entry.shadowID >= oldest {
				entry.shadowID = shadowFor(entry, tail, claimed)
			}
			if entry.shadowID != 0 {
				claimed[entry.shadowID] = struct{}{}
				s.movePinLocked(clientKey(entry.ClientID), entry.shadowID)
			}
		}
		kept = append(kept, entry)
	}
	s.local = kept
	s.confirmed = confirmed

	view := s.snapshotLocked()
	s.mu.Unlock()
	s.feed.publish(view)
}

// reflectedIn reports whether a confirmed local entry is now represented by the server
// tail, or has aged out of it, along with the id of the tail message that matched.
func reflectedIn(entry Entry, confirmedAfter, seq uint64, known map[int64]struct{}, oldest int64, tail []protocol.MessagePayload) (bool, int64) {
	if entry.ServerID != 0 {
		if _, ok := known[entry.ServerID]; ok {
			return true, entry.ServerID
		}
		return seq > confirmedAfter || (len(tail) > 0 && entry.ServerID < oldest), 0
	}
	for _, message := range tail {
		if message.From == entry.Author && message.Text == entry.Text && message.Time == entry.Time {
			return true, message.ID
		}
	}
	return seq > confirmedAfter, 0
}

// shadowFor finds the server copy of a write whose response has not arrived yet: a
// message newer than anything known at submission, from the same author, with the same
// text. Without a baseline nothing is matched.
func shadowFor(entry localEntry, tail []protocol.MessagePayload, claimed map[int64]struct{}) int64 {
	if entry.baselineID < 0 {
		return 0
	}
	for _, message := range tail {
		if message.ID <= entry.baselineID || message.From != entry.Author || message.Text != entry.Text {
			continue
		}
		if _, taken := claimed[message.ID]; taken {
			continue
		}
		return message.ID
	}
	return 0
}

func clientKey(clientID int64) string {
	return Entry{ClientID: clientID}.Key()
}

// movePinLocked retargets a pin held by a local entry to its server copy.
func (s *Session) movePinLocked(fromKey string, serverID int64) {
	if s.pinnedKey == fromKey {
		s.pinnedKey = Entry{ServerID: serverID}.Key()
	}
}

func (s *Session) newestConfirmedIDLocked() int64 {
	var newest int64
	for _, entry := range s.confirmed {
		if entry.ServerID > newest {
			newest = entry.ServerID
		}
	}
	return newest
}

func (s *Session) localIndexLocked(clientID int64) int {
	for index := range s.local {
		if s.local[index].ClientID == clientID {
			return index
		}
	}
	return -1
}

func (s *Session) confirmedHasLocked(serverID int64) bool {
	for _, entry := range s.confirmed {
		if entry.ServerID == serverID {
			return true
		}
	}
	return false
}

func (s *Session) entriesLocked() []Entry {
	entries := make([]Entry, 0, len(s.confirmed)+len(s.local))
	entries = append(entries, s.confirmed...)
	for _, entry := range s.local {
		if entry.Status == StatusSending && entry.shadowID != 0 {
			continue
		}
		entries = append(entries, entry.Entry)
	}
	return entries
}

func (s *Session) snapshotLocked() View {
	view := View{
		Entries: s.entriesLocked(),
		Writing: s.writing,
	}
	if s.pinnedKey != "" {
		for _, entry := range view.Entries {
			if entry.Key() == s.pinnedKey {
				s.pinnedCopy = entry
				break
			}
		}
		pinned := s.pinnedCopy
		view.Pinned = &pinned
	}
	if s.hasPing {
		view.Ping = s.ping
		view.PingGrade = GradePing(s.ping)
	}
	return view
}
