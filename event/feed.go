// Copyright 2025 The credithub Authors
// This file is part of the credithub library.
//
// The credithub library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The credithub library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the credithub library. If not, see <http://www.gnu.org/licenses/>.

// Package event implements a one-to-many typed subscription feed used to
// publish domain events from the engines to the API boundary and background
// observers.
package event

import "sync"

// Subscription represents a feed membership that can be cancelled.
type Subscription interface {
	Unsubscribe()
}

// Feed delivers values to all subscribed channels. Unlike a broadcast over a
// single shared channel, each subscriber owns its buffer; a full subscriber
// is skipped rather than blocking the sender, since domain events are
// advisory and the ledger remains the source of truth.
//
// The zero value is ready to use.
type Feed[T any] struct {
	mu      sync.Mutex
	subs    map[*feedSub[T]]struct{}
	dropped uint64
}

type feedSub[T any] struct {
	feed *Feed[T]
	ch   chan<- T
	once sync.Once
}

func (s *feedSub[T]) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
	})
}

// Subscribe adds a channel to the feed. The channel should have ample buffer
// space: sends to a full channel are dropped for that subscriber.
func (f *Feed[T]) Subscribe(ch chan<- T) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[*feedSub[T]]struct{})
	}
	sub := &feedSub[T]{feed: f, ch: ch}
	f.subs[sub] = struct{}{}
	return sub
}

// Send delivers value to every subscriber that has buffer space and returns
// the number of successful deliveries.
func (f *Feed[T]) Send(value T) (nsent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub.ch <- value:
			nsent++
		default:
			f.dropped++
		}
	}
	return nsent
}

// Dropped returns the number of deliveries skipped due to full subscriber
// buffers since the feed was created.
func (f *Feed[T]) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
