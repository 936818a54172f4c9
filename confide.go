// Package confide - end-to-end encrypted messaging core
package confide

import (
	"context"
	"fmt"

	"github.com/alwitt/confide/db"
	"github.com/alwitt/confide/encryption"
	"github.com/alwitt/confide/gdpr"
	"github.com/alwitt/confide/keys"
	"github.com/alwitt/confide/local"
	"github.com/alwitt/confide/messaging"
	"github.com/alwitt/confide/network"
	"github.com/alwitt/confide/queue"
	"github.com/alwitt/confide/session"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CoreParams arguments for assembling a messaging core
type CoreParams struct {
	// RemoteDialector GORM dialector for the remote store
	RemoteDialector gorm.Dialector
	// LocalDialector GORM dialector for the device-local store
	LocalDialector gorm.Dialector
	// DBLogLevel SQL log level for both stores
	DBLogLevel logger.LogLevel
	// Session hosted auth session boundary
	Session session.Provider
	// Monitor connectivity state source
	Monitor network.Monitor
	// Encryption cryptography engine tuning
	Encryption encryption.EngineParams
	// Messaging message policy (length bounds, edit and delete windows)
	Messaging messaging.ServiceParams
	// QueueRetryCeiling maximum sync attempts before a queue entry is parked
	QueueRetryCeiling int
}

// MessagingCore the assembled messaging core, the single handle UI code needs
type MessagingCore struct {
	// Keys key lifecycle operations
	Keys keys.Manager
	// Messages message send / history / lifecycle operations
	Messages messaging.Service
	// Queue offline queue operations
	Queue queue.Manager
	// GDPR data subject rights operations
	GDPR gdpr.Service

	// Persistence remote store client, exposed for data management tooling
	Persistence db.Client
	// LocalStore device-local store, exposed for data management tooling
	LocalStore local.Store
}

/*
NewMessagingCore initialize a messaging core instance.

Each instance is backed by a remote SQL store shared across devices and a
device-local SQLite file holding the offline queue and message cache.

	@param ctx context.Context - execution context
	@param params CoreParams - assembly parameters
	@returns new core instance
*/
func NewMessagingCore(ctx context.Context, params CoreParams) (*MessagingCore, error) {
	// Prepare persistence
	persistence, err := db.NewConnection(params.RemoteDialector, params.DBLogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized persistence client [%w]", err)
	}

	localStore, err := local.NewStore(params.LocalDialector, params.DBLogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized local store [%w]", err)
	}

	// Prepare cryptography engine
	cryptoEngine, err := encryption.NewEngine(params.Encryption)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized cryptography engine [%w]", err)
	}

	keyManager, err := keys.NewManager(keys.ManagerParams{
		Persistence: persistence,
		Engine:      cryptoEngine,
		Session:     params.Session,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialized key lifecycle manager [%w]", err)
	}

	queueParams := queue.DefaultManagerParams(persistence, localStore, params.Monitor)
	if params.QueueRetryCeiling > 0 {
		queueParams.RetryCeiling = params.QueueRetryCeiling
	}
	queueManager, err := queue.NewManager(queueParams)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized queue manager [%w]", err)
	}

	messagingParams := params.Messaging
	messagingParams.Persistence = persistence
	messagingParams.LocalStore = localStore
	messagingParams.Keys = keyManager
	messagingParams.Engine = cryptoEngine
	messagingParams.Session = params.Session
	messagingParams.Monitor = params.Monitor
	messageService, err := messaging.NewService(messagingParams)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized message service [%w]", err)
	}

	gdprService, err := gdpr.NewService(gdpr.ServiceParams{
		Persistence: persistence,
		LocalStore:  localStore,
		Keys:        keyManager,
		Engine:      cryptoEngine,
		Session:     params.Session,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialized GDPR service [%w]", err)
	}

	queueManager.Start(ctx)

	return &MessagingCore{
		Keys:        keyManager,
		Messages:    messageService,
		Queue:       queueManager,
		GDPR:        gdprService,
		Persistence: persistence,
		LocalStore:  localStore,
	}, nil
}

// Close halt the core's background activity
func (c *MessagingCore) Close() {
	c.Queue.Stop()
}
