// Package session - interface boundary with the hosted auth service
package session

import (
	"context"
	"sync"
)

// Provider the narrow surface of the hosted auth session this core needs
type Provider interface {
	/*
		CurrentUserID identify the authenticated caller

			@param ctx context.Context - execution context
			@return the user ID, or empty string when no session is active
	*/
	CurrentUserID(ctx context.Context) (string, error)

	/*
		SignOut end the active session

			@param ctx context.Context - execution context
	*/
	SignOut(ctx context.Context) error
}

// StaticProvider a settable in-process session, for embedding and tests
type StaticProvider struct {
	lock   sync.RWMutex
	userID string
}

// NewStaticProvider define a static session provider
func NewStaticProvider(userID string) *StaticProvider {
	return &StaticProvider{userID: userID}
}

// SetUserID change the active user. Empty string means signed out.
func (p *StaticProvider) SetUserID(userID string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.userID = userID
}

// CurrentUserID identify the authenticated caller
func (p *StaticProvider) CurrentUserID(_ context.Context) (string, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.userID, nil
}

// SignOut end the active session
func (p *StaticProvider) SignOut(_ context.Context) error {
	p.SetUserID("")
	return nil
}
