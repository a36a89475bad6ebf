package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/worldcache/internal/logging"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSInvalidator рассылает ключи сохранённых регионов через NATS.
// Узлы, получившие ключ, выгружают свою чистую копию региона.
// Собственные сообщения узла и повторные доставки игнорируются.
type NATSInvalidator struct {
	conn   *nats.Conn
	config *InvalidatorConfig
	nodeID string

	subMu   sync.Mutex
	sub     *nats.Subscription
	handler InvalidationHandler

	seenMu sync.Mutex
	seen   map[string]time.Time // идентификатор сообщения -> время получения

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	published atomic.Int64
	received  atomic.Int64
	failed    atomic.Int64
}

// InvalidatorConfig содержит настройки подключения к NATS
type InvalidatorConfig struct {
	NATSURL       string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
	DedupeWindow  time.Duration // сколько помнить полученные сообщения
	FlushTimeout  time.Duration
}

// regionSaved: сообщение о сохранении региона узлом Node
type regionSaved struct {
	Key     string    `json:"key"`
	Node    string    `json:"node"`
	SavedAt time.Time `json:"saved_at"`
}

// id различает повторную доставку и новое сохранение того же региона
func (m *regionSaved) id() string {
	return fmt.Sprintf("%s|%s|%d", m.Node, m.Key, m.SavedAt.UnixNano())
}

func (c *InvalidatorConfig) withDefaults() {
	if c.Subject == "" {
		c.Subject = "worldcache.region.invalidate"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.DedupeWindow == 0 {
		c.DedupeWindow = 5 * time.Second
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = 5 * time.Second
	}
}

// NewNATSInvalidator подключается к NATS. Пустой nodeID заменяется случайным UUID.
func NewNATSInvalidator(config *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	config.withDefaults()
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	log := logging.GetCacheLogger()

	conn, err := nats.Connect(config.NATSURL,
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS: соединение потеряно: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS: переподключение к %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("подключение к NATS %s: %w", config.NATSURL, err)
	}

	n := newInvalidator(config, nodeID)
	n.conn = conn

	n.wg.Add(1)
	go n.forgetLoop()

	log.Info("NATS: инвалидация регионов через %s (subject %s, узел %s)", config.NATSURL, config.Subject, nodeID)
	return n, nil
}

func newInvalidator(config *InvalidatorConfig, nodeID string) *NATSInvalidator {
	return &NATSInvalidator{
		config: config,
		nodeID: nodeID,
		seen:   make(map[string]time.Time),
		stopCh: make(chan struct{}),
	}
}

// PublishInvalidation сообщает другим узлам о сохранении региона key
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	data, err := json.Marshal(regionSaved{Key: key, Node: n.nodeID, SavedAt: time.Now()})
	if err == nil {
		err = n.conn.Publish(n.config.Subject, data)
	}
	if err == nil {
		flushCtx, cancel := context.WithTimeout(ctx, n.config.FlushTimeout)
		err = n.conn.FlushWithContext(flushCtx)
		cancel()
	}
	if err != nil {
		n.failed.Add(1)
		return fmt.Errorf("публикация инвалидации %s: %w", key, err)
	}

	n.published.Add(1)
	return nil
}

// SubscribeInvalidations подписывает handler на сообщения других узлов до отмены ctx или Close
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.sub != nil {
		return fmt.Errorf("подписка на %s уже оформлена", n.config.Subject)
	}
	n.handler = handler

	sub, err := n.conn.Subscribe(n.config.Subject, n.onMessage)
	if err != nil {
		return fmt.Errorf("подписка на %s: %w", n.config.Subject, err)
	}
	n.sub = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()
	return nil
}

// Close отписывается и закрывает соединение. Повторный вызов безопасен.
func (n *NATSInvalidator) Close() error {
	n.closeOnce.Do(func() {
		close(n.stopCh)
		n.wg.Wait()
		n.unsubscribe()
		if n.conn != nil {
			n.conn.Close()
		}
	})
	return nil
}

func (n *NATSInvalidator) onMessage(msg *nats.Msg) {
	n.received.Add(1)
	log := logging.GetCacheLogger()

	var m regionSaved
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		n.failed.Add(1)
		log.Warn("NATS: нечитаемое сообщение инвалидации: %v", err)
		return
	}
	if m.Node == n.nodeID || !n.firstSeen(m.id()) {
		return
	}
	if n.handler == nil {
		return
	}
	if err := n.handler(m.Key); err != nil {
		n.failed.Add(1)
		log.Error("NATS: инвалидация %s не применена: %v", m.Key, err)
	}
}

// firstSeen запоминает id и возвращает false, если он уже встречался в пределах окна
func (n *NATSInvalidator) firstSeen(id string) bool {
	n.seenMu.Lock()
	defer n.seenMu.Unlock()

	if at, ok := n.seen[id]; ok && time.Since(at) < n.config.DedupeWindow {
		return false
	}
	n.seen[id] = time.Now()
	return true
}

// forget удаляет идентификаторы старше окна дедупликации
func (n *NATSInvalidator) forget() {
	n.seenMu.Lock()
	defer n.seenMu.Unlock()

	for id, at := range n.seen {
		if time.Since(at) > n.config.DedupeWindow {
			delete(n.seen, id)
		}
	}
}

func (n *NATSInvalidator) forgetLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.DedupeWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.forget()
		case <-n.stopCh:
			return
		}
	}
}

func (n *NATSInvalidator) unsubscribe() {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.sub == nil {
		return
	}
	if err := n.sub.Unsubscribe(); err != nil {
		logging.GetCacheLogger().Warn("NATS: ошибка отписки от %s: %v", n.config.Subject, err)
	}
	n.sub = nil
}
