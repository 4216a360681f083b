// Package memory provides an in-memory statestore.Store, used in tests and
// when depflow runs without a database.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/simplesurance/depflow/internal/statestore"
)

type Store struct {
	lock   sync.RWMutex
	values map[string][]byte
}

func New() *Store {
	return &Store{values: map[string][]byte{}}
}

func (s *Store) Get(_ context.Context, key string, dest any) error {
	s.lock.RLock()
	data, exist := s.values[key]
	s.lock.RUnlock()

	if !exist {
		return statestore.ErrNotFound
	}

	return json.Unmarshal(data, dest)
}

func (s *Store) Put(_ context.Context, key string, val any) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.values[key] = data
	s.lock.Unlock()

	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.lock.Lock()
	delete(s.values, key)
	s.lock.Unlock()

	return nil
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var result []string
	for key := range s.values {
		if strings.HasPrefix(key, prefix) {
			result = append(result, key)
		}
	}

	sort.Strings(result)

	return result, nil
}
