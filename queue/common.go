// Package queue - offline message queue with bounded retry and convergent
// sync triggers
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/confide/db"
	"github.com/alwitt/confide/local"
	"github.com/alwitt/confide/models"
	"github.com/alwitt/confide/network"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
)

// SyncReport outcome of one queue drain
type SyncReport struct {
	// Success number of entries promoted to the remote store
	Success int `json:"success"`
	// Failed number of entries whose sync attempt failed this pass
	Failed int `json:"failed"`
}

// Manager the offline queue manager.
//
// Sync is triggered three ways: manually, on transition to the online
// network state, and by a periodic poll. All three converge on one
// idempotent drain routine; concurrent triggers can never double-send.
type Manager interface {
	/*
		SyncQueue drain pending entries into the remote store

		Concurrent callers share a single in-flight drain.

			@param ctx context.Context - execution context
			@return drain outcome
	*/
	SyncQueue(ctx context.Context) (SyncReport, error)

	/*
		RetryFailed move failed entries back to pending and drain again

			@param ctx context.Context - execution context
			@return drain outcome
	*/
	RetryFailed(ctx context.Context) (SyncReport, error)

	/*
		GetFailedMessages list entries that exhausted their retry budget

			@param ctx context.Context - execution context
			@return failed entries
	*/
	GetFailedMessages(ctx context.Context) ([]models.QueuedMessage, error)

	/*
		ClearSyncedMessages remove synced and failed entries

			@param ctx context.Context - execution context
			@return number of entries removed
	*/
	ClearSyncedMessages(ctx context.Context) (int64, error)

	/*
		PendingCount count entries waiting to be synced

			@param ctx context.Context - execution context
			@return pending entry count
	*/
	PendingCount(ctx context.Context) (int64, error)

	/*
		Start begin the background trigger loop

		The loop listens for online transitions and the poll ticker, and runs
		until Stop is called or the given context ends.

			@param ctx context.Context - execution context bounding the loop
	*/
	Start(ctx context.Context)

	/*
		Stop halt the background trigger loop
	*/
	Stop()
}

// ManagerParams arguments for defining a new queue manager
type ManagerParams struct {
	// Persistence remote store client
	Persistence db.Client `validate:"required"`
	// LocalStore device-local durable store
	LocalStore local.Store `validate:"required"`
	// Monitor connectivity state source
	Monitor network.Monitor `validate:"required"`
	// RetryCeiling maximum sync attempts before an entry is parked as failed
	RetryCeiling int `validate:"required,gte=1"`
	// PollInterval background sync poll period
	PollInterval time.Duration `validate:"required"`
}

// DefaultManagerParams queue manager parameters with standard limits
func DefaultManagerParams(
	persistence db.Client, localStore local.Store, monitor network.Monitor,
) ManagerParams {
	return ManagerParams{
		Persistence:  persistence,
		LocalStore:   localStore,
		Monitor:      monitor,
		RetryCeiling: 3,
		PollInterval: time.Minute,
	}
}

// queueManager implements Manager
type queueManager struct {
	goutils.Component
	persistence  db.Client
	localStore   local.Store
	monitor      network.Monitor
	retryCeiling int
	pollInterval time.Duration

	// syncGroup collapses concurrent drain requests onto one in-flight call
	syncGroup singleflight.Group
	// syncRequest fan-in of the three trigger paths
	syncRequest chan struct{}
	// transitions the manager's one monitor subscription, shared across
	// Start/Stop cycles
	transitions <-chan bool

	lock      sync.Mutex
	isSyncing bool

	loopCtxCancel context.CancelFunc
	loopDone      chan struct{}
}

/*
NewManager define a new offline queue manager

	@param params ManagerParams - manager parameters
	@return new manager
*/
func NewManager(params ManagerParams) (Manager, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("queue manager parameters are not valid [%w]", err)
	}

	logTags := log.Fields{"package": "confide", "module": "queue", "component": "queue-manager"}

	return &queueManager{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence:  params.Persistence,
		localStore:   params.LocalStore,
		monitor:      params.Monitor,
		retryCeiling: params.RetryCeiling,
		pollInterval: params.PollInterval,
		syncRequest:  make(chan struct{}, 1),
		transitions:  params.Monitor.Subscribe(),
	}, nil
}
