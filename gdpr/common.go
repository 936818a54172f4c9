// Package gdpr - data subject rights: full export and account erasure
package gdpr

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/confide/db"
	"github.com/alwitt/confide/encryption"
	cerrors "github.com/alwitt/confide/errors"
	"github.com/alwitt/confide/keys"
	"github.com/alwitt/confide/local"
	"github.com/alwitt/confide/messaging"
	"github.com/alwitt/confide/models"
	"github.com/alwitt/confide/session"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// ConversationExport one conversation with its full decrypted message list
type ConversationExport struct {
	// Conversation the conversation row
	Conversation models.Conversation `json:"conversation"`
	// Messages every message of the conversation, deleted included, in
	// chronological order
	Messages []messaging.DecryptedMessage `json:"messages"`
}

// ExportDocument everything held about one user
type ExportDocument struct {
	// ExportedAt export generation timestamp
	ExportedAt time.Time `json:"exported_at"`
	// Profile the user's profile row
	Profile models.UserProfile `json:"profile"`
	// Connections the user's connection rows
	Connections []models.UserConnection `json:"connections"`
	// Conversations every conversation the user participates in, archived
	// included
	Conversations []ConversationExport `json:"conversations"`
}

// Service data subject rights operations
type Service interface {
	/*
		ExportUserData assemble everything held about the authenticated user

		Message content is decrypted where possible; content that cannot be
		decrypted is exported as a placeholder rather than omitted.

			@param ctx context.Context - execution context
			@returns the export document
	*/
	ExportUserData(ctx context.Context) (ExportDocument, error)

	/*
		DeleteUserAccount destroy the authenticated user's account

		In-memory keys are cleared first, then local queue and cache, then the
		remote profile (which cascades to keys, conversations, messages, and
		connections), and finally the session is terminated.

			@param ctx context.Context - execution context
	*/
	DeleteUserAccount(ctx context.Context) error
}

// ServiceParams arguments for defining a new GDPR service
type ServiceParams struct {
	// Persistence remote store client
	Persistence db.Client `validate:"required"`
	// LocalStore device-local durable store
	LocalStore local.Store `validate:"required"`
	// Keys key lifecycle manager
	Keys keys.Manager `validate:"required"`
	// Engine cryptography engine
	Engine encryption.Engine `validate:"required"`
	// Session hosted auth session boundary
	Session session.Provider `validate:"required"`
}

// gdprService implements Service
type gdprService struct {
	goutils.Component
	persistence db.Client
	localStore  local.Store
	keys        keys.Manager
	engine      encryption.Engine
	session     session.Provider

	nowFn func() time.Time
}

/*
NewService define a new GDPR service

	@param params ServiceParams - service parameters
	@return new service
*/
func NewService(params ServiceParams) (Service, error) {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("GDPR service parameters are not valid [%w]", err)
	}

	logTags := log.Fields{"package": "confide", "module": "gdpr", "component": "gdpr-service"}

	return &gdprService{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: params.Persistence,
		localStore:  params.LocalStore,
		keys:        params.Keys,
		engine:      params.Engine,
		session:     params.Session,
		nowFn:       time.Now,
	}, nil
}

// requireUser resolve the authenticated user or fail
func (s *gdprService) requireUser(ctx context.Context) (string, error) {
	userID, err := s.session.CurrentUserID(ctx)
	if err != nil {
		return "", cerrors.Authentication(fmt.Sprintf("session lookup failed: %v", err))
	}
	if userID == "" {
		return "", cerrors.Authentication("no active session")
	}
	return userID, nil
}
