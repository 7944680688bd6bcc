/*
@Author: Lzww
@LastEditTime: 2025-11-10 21:59:43
@Description: Session store
@Language: Go

┌──────────────────────────────────────┐
│         Business Layer               │
│           (Pool)                     │
│  - Add()       -> Save()             │
│  - Remove()    -> Delete()           │
│  - Restore()   -> List()             │
└──────────────┬───────────────────────┘

	|
	│ 使用Store接口
	│
	|

┌──────────────▼───────────────────────┐
│      Repository Interface            │
│         (Store)                      │
└──────────────┬───────────────────────┘

	           │ 具体实现
	           │
	┌──────────┴──────────┐
	│                     │

┌───▼─────┐       ┌───────▼────┐
│ Memory  │       │   Redis    │
│ Store   │       │   Store    │
└─────────┘       └────────────┘
*/
package session

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by Store.Get for unknown ids
var ErrRecordNotFound = errors.New("session record not found")

// Record is what a Store remembers about a session: enough to add it again
type Record struct {
	ID         string    `json:"id"`
	Credential string    `json:"credential"`
	Endpoint   string    `json:"endpoint"`
	AddedAt    time.Time `json:"added_at"`
}

// Store defines the interface for the session credential cache
type Store interface {
	// Save creates or replaces a record
	Save(ctx context.Context, rec *Record) error

	// Get retrieves a record by session id
	Get(ctx context.Context, id string) (*Record, error)

	// Delete removes a record; deleting an unknown id is not an error
	Delete(ctx context.Context, id string) error

	// List returns every record ordered by AddedAt
	List(ctx context.Context) ([]*Record, error)

	// Count returns the number of records
	Count(ctx context.Context) (int, error)
}
