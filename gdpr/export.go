package gdpr

import (
	"context"
	"fmt"

	"github.com/alwitt/confide/db"
	"github.com/alwitt/confide/encryption"
	cerrors "github.com/alwitt/confide/errors"
	"github.com/alwitt/confide/messaging"
	"github.com/alwitt/confide/models"
	"github.com/apex/log"
)

/*
ExportUserData assemble everything held about the authenticated user

	@param ctx context.Context - execution context
	@returns the export document
*/
func (s *gdprService) ExportUserData(ctx context.Context) (ExportDocument, error) {
	userID, err := s.requireUser(ctx)
	if err != nil {
		return ExportDocument{}, err
	}

	doc := ExportDocument{ExportedAt: s.nowFn()}

	var conversations []models.Conversation
	if dbErr := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			if doc.Profile, err = dbClient.GetUserProfile(dbCtx, userID); err != nil {
				return err
			}
			if doc.Connections, err = dbClient.ListUserConnections(dbCtx, userID); err != nil {
				return err
			}
			// Archived conversations are still the user's data
			conversations, err = dbClient.ListConversationsForUser(
				dbCtx, userID, db.ConversationQueryFilter{IncludeArchived: true},
			)
			return err
		},
	); dbErr != nil {
		return ExportDocument{}, cerrors.Connection(
			fmt.Sprintf("failed to assemble export for user %s", userID), dbErr,
		)
	}

	pair := s.keys.GetCurrentKeys()

	for _, conv := range conversations {
		export, err := s.exportConversation(ctx, userID, conv, pair)
		if err != nil {
			return ExportDocument{}, err
		}
		doc.Conversations = append(doc.Conversations, export)
	}

	log.WithFields(s.LogTags).
		WithField("user", userID).
		WithField("conversations", len(doc.Conversations)).
		Info("Assembled user data export")

	return doc, nil
}

// exportConversation decrypt one conversation's complete message list
func (s *gdprService) exportConversation(
	ctx context.Context,
	userID string,
	conv models.Conversation,
	pair *models.DerivedKeyPair,
) (ConversationExport, error) {
	var rows []models.Message
	if dbErr := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			// An export is exhaustive: soft-deleted rows are included, and no
			// page limit applies
			rows, err = dbClient.ListMessages(
				dbCtx, conv.ID, db.MessageQueryFilter{IncludeDeleted: true},
			)
			return err
		},
	); dbErr != nil {
		return ConversationExport{}, cerrors.Connection(
			fmt.Sprintf("failed to list messages of conversation %s", conv.ID), dbErr,
		)
	}

	secret := s.secretForConversation(ctx, userID, conv, pair)

	export := ConversationExport{Conversation: conv, Messages: []messaging.DecryptedMessage{}}
	// Store order is newest first; the export reads chronologically
	for idx := len(rows) - 1; idx >= 0; idx-- {
		export.Messages = append(export.Messages, s.decryptRow(ctx, rows[idx], secret))
	}

	return export, nil
}

// secretForConversation best-effort shared secret for one conversation's peer
//
// Any failure along the chain (no in-memory keys, peer never published a key,
// store unreachable) yields nil; the export then carries placeholders instead
// of failing outright.
func (s *gdprService) secretForConversation(
	ctx context.Context,
	userID string,
	conv models.Conversation,
	pair *models.DerivedKeyPair,
) encryption.SymmetricKey {
	if pair == nil {
		return nil
	}

	peerID, isParticipant := conv.OtherParticipant(userID)
	if !isParticipant {
		return nil
	}

	peerKey, err := s.keys.GetUserPublicKey(ctx, peerID)
	if err != nil || peerKey == nil {
		if err != nil {
			log.WithFields(s.LogTags).
				WithError(err).
				WithField("peer", peerID).
				Warn("Failed to fetch peer key during export")
		}
		return nil
	}

	secret, err := s.engine.DeriveSharedSecret(ctx, pair.PrivateKey, *peerKey)
	if err != nil {
		log.WithFields(s.LogTags).
			WithError(err).
			WithField("peer", peerID).
			Warn("Failed to derive shared secret during export")
		return nil
	}
	return secret
}

// decryptRow decrypt one message row for export, degrading to placeholders
func (s *gdprService) decryptRow(
	ctx context.Context, msg models.Message, secret encryption.SymmetricKey,
) messaging.DecryptedMessage {
	result := messaging.DecryptedMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SequenceNumber: msg.SequenceNumber,
		Edited:         msg.Edited,
		EditedAt:       msg.EditedAt,
		DeliveredAt:    msg.DeliveredAt,
		ReadAt:         msg.ReadAt,
		CreatedAt:      msg.CreatedAt,
	}

	if secret == nil {
		result.Content = messaging.PlaceholderKeysUnavailable
		result.DecryptFailed = true
		return result
	}

	plain, err := s.engine.DecryptMessage(ctx, encryption.EncryptedData{
		CipherText: msg.EncryptedContent,
		IV:         msg.InitializationVector,
	}, secret)
	if err != nil {
		result.Content = messaging.PlaceholderUndecryptable
		result.DecryptFailed = true
		return result
	}

	result.Content = string(plain)
	return result
}
