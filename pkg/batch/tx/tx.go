// Package tx はステップ単位のトランザクション境界を提供します。
// Manager.Begin が返す context.Context にはトランザクションが含まれ、
// JobRepository の書き込みはそのトランザクションに参加します。
package tx

import (
	"context"
	"errors"
	"sync"
)

// ErrTransactionClosed はコミットまたはロールバック済みのトランザクションを操作した場合に返されます。
var ErrTransactionClosed = errors.New("transaction already completed")

// Transaction は 1 回のステップ処理の作業単位です。
type Transaction interface {
	Commit() error
	Rollback() error
	// AfterCompletion はコミットまたはロールバックの後に呼ばれる関数を登録します。
	// committed はコミットに成功した場合のみ true です。
	AfterCompletion(fn func(committed bool))
}

// Manager はトランザクションを開始します。
type Manager interface {
	Begin(ctx context.Context) (context.Context, Transaction, error)
}

type ctxKey struct{}

// WithTransaction は t を含む context を返します。
func WithTransaction(ctx context.Context, t Transaction) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext は ctx に含まれるトランザクションを返します。
func FromContext(ctx context.Context) (Transaction, bool) {
	t, ok := ctx.Value(ctxKey{}).(Transaction)
	return t, ok
}

// Synchronizations は AfterCompletion で登録された関数を保持し、完了時に一度だけ呼び出します。
// Transaction の実装に埋め込んで使います。
type Synchronizations struct {
	mu   sync.Mutex
	fns  []func(committed bool)
	done bool
}

// AfterCompletion は完了時に呼ばれる関数を登録します。
func (s *Synchronizations) AfterCompletion(fn func(committed bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
}

// Complete は登録された関数を登録順に呼び出します。二回目以降は ErrTransactionClosed を返します。
func (s *Synchronizations) Complete(committed bool) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return ErrTransactionClosed
	}
	s.done = true
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn(committed)
	}
	return nil
}

// Done は完了済みかどうかを返します。
func (s *Synchronizations) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
