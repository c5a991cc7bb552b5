// Message search over in-memory bleve indices, one index per scope.
// A scope is a space ("space:<id>") or a direct conversation
// ("dm:<conversationId>"). Indices are rebuilt from the store on
// Initialize and kept current incrementally through the store's
// message observer hooks. Indexing is best-effort: failures are logged
// and never surfaced to message writes.
package search

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/quorum-im/go-quorum/config"
	"github.com/quorum-im/go-quorum/store"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	ScopeSpacePrefix = "space:"
	ScopeDMPrefix    = "dm:"

	// direct conversations are loaded in pages of this size during
	// the initial index build
	conversationBatch = 200
)

func SpaceScope(spaceID string) string {
	return ScopeSpacePrefix + spaceID
}

func DMScope(conversationID string) string {
	return ScopeDMPrefix + conversationID
}

type Result struct {
	Message *store.Message
	Score   float64
}

// The indexed view of a message. Only post and event content carries
// searchable text; everything else is skipped at index time.
type indexDoc struct {
	Text     string `json:"text"`
	SenderID string `json:"senderId"`
}

type Manager struct {
	config *config.Config
	store  *store.Store
	log    *zap.SugaredLogger

	lock        sync.RWMutex
	initialized bool
	indices     map[string]bleve.Index
}

func NewManager(c *config.Config, s *store.Store) *Manager {
	m := &Manager{
		config:  c,
		store:   s,
		log:     c.Logger("search"),
		indices: make(map[string]bleve.Index),
	}
	s.AddObserver(m)
	return m
}

// Initialize builds one index per known scope from the store. Calling
// it again is a no-op; incremental updates keep the indices current
// after the first build.
func (m *Manager) Initialize() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.initialized {
		return nil
	}

	spaces, err := m.store.GetSpaces()
	if err != nil {
		return fmt.Errorf("listing spaces: %w", err)
	}
	for _, sp := range spaces {
		messages, err := m.store.GetAllSpaceMessages(sp.SpaceID)
		if err != nil {
			return fmt.Errorf("loading messages for space %s: %w", sp.SpaceID, err)
		}
		if err := m.buildIndex(SpaceScope(sp.SpaceID), messages); err != nil {
			return err
		}
	}

	// paged so clients with more direct conversations than one page
	// still get every scope indexed
	cursor := uint64(0)
	for {
		conversations, err := m.store.GetConversations(store.ConversationDirect, cursor, conversationBatch)
		if err != nil {
			return fmt.Errorf("listing direct conversations: %w", err)
		}
		for _, c := range conversations.Conversations {
			messages, err := m.store.GetAllSpaceMessages(c.ConversationID)
			if err != nil {
				return fmt.Errorf("loading messages for conversation %s: %w", c.ConversationID, err)
			}
			if err := m.buildIndex(DMScope(c.ConversationID), messages); err != nil {
				return err
			}
		}
		if conversations.NextCursor == 0 {
			break
		}
		cursor = conversations.NextCursor
	}

	m.initialized = true
	m.log.Debugf("built %d search indices", len(m.indices))
	return nil
}

func (m *Manager) buildIndex(scope string, messages []*store.Message) error {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return fmt.Errorf("creating index for %s: %w", scope, err)
	}
	batch := idx.NewBatch()
	for _, msg := range messages {
		if doc, ok := docFor(msg); ok {
			if err := batch.Index(msg.MessageID, doc); err != nil {
				return fmt.Errorf("indexing %s: %w", msg.MessageID, err)
			}
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("flushing index for %s: %w", scope, err)
	}
	m.indices[scope] = idx
	return nil
}

func docFor(msg *store.Message) (*indexDoc, bool) {
	switch msg.Content.Type {
	case store.ContentPost, store.ContentEvent:
		return &indexDoc{Text: msg.Content.Text, SenderID: msg.Content.SenderID}, true
	default:
		return nil, false
	}
}

func scopeFor(msg *store.Message) string {
	if msg.SpaceID == msg.ChannelID {
		return DMScope(msg.SpaceID)
	}
	return SpaceScope(msg.SpaceID)
}

// MessageAdded indexes the message into its scope. A no-op before
// Initialize; the eventual full build covers anything missed.
func (m *Manager) MessageAdded(msg *store.Message) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.initialized {
		return
	}
	doc, ok := docFor(msg)
	if !ok {
		return
	}
	scope := scopeFor(msg)
	idx, ok := m.indices[scope]
	if !ok {
		var err error
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			m.log.Warnf("creating index for %s: %s", scope, err)
			return
		}
		m.indices[scope] = idx
	}
	if err := idx.Index(msg.MessageID, doc); err != nil {
		m.log.Warnf("indexing message %s: %s", msg.MessageID, err)
	}
}

// MessageRemoved drops the message from its scope's index. A no-op
// before Initialize or for scopes never indexed.
func (m *Manager) MessageRemoved(messageID, spaceID, channelID string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.initialized {
		return
	}
	scope := SpaceScope(spaceID)
	if spaceID == channelID {
		scope = DMScope(spaceID)
	}
	idx, ok := m.indices[scope]
	if !ok {
		return
	}
	if err := idx.Delete(messageID); err != nil {
		m.log.Warnf("removing message %s from index: %s", messageID, err)
	}
}

// Search runs the query against one scope's index and joins each hit
// back to the full message. Hits whose message has vanished are
// dropped silently.
func (m *Manager) Search(query, scope string, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = 50
	}
	m.lock.RLock()
	idx, ok := m.indices[scope]
	m.lock.RUnlock()
	if !ok {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", scope, err)
	}

	results := make([]*Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		msg, err := m.store.GetMessageByID(hit.ID)
		if err != nil {
			continue
		}
		results = append(results, &Result{Message: msg, Score: hit.Score})
	}
	return results, nil
}

// Scopes lists the scope keys with a built index, sorted.
func (m *Manager) Scopes() []string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	scopes := maps.Keys(m.indices)
	slices.Sort(scopes)
	return scopes
}

func (m *Manager) Shutdown() {
	m.lock.Lock()
	defer m.lock.Unlock()
	for scope, idx := range m.indices {
		if err := idx.Close(); err != nil {
			m.log.Warnf("closing index %s: %s", scope, err)
		}
	}
	m.indices = make(map[string]bleve.Index)
	m.initialized = false
}
