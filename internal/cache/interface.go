package cache

import "context"

// Invalidator рассылает и принимает уведомления об изменении регионов
// между узлами, использующими общее хранилище.
//
// Использование:
//
//	inv, _ := NewNATSInvalidator(config, "")
//	registry.BindInvalidator(ctx, inv)
type Invalidator interface {
	// PublishInvalidation отправляет уведомление об изменении ключа региона.
	PublishInvalidation(ctx context.Context, key string) error

	// SubscribeInvalidations подписывается на уведомления других узлов.
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	// Close закрывает соединение.
	Close() error
}

// InvalidationHandler обрабатывает уведомление об изменении региона.
type InvalidationHandler func(key string) error
