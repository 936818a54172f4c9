// Package main - Atlas GORM migration support binary
package main

import (
	"fmt"

	"ariga.io/atlas-provider-gorm/gormschema"
	"github.com/alwitt/confide/db"
	"github.com/apex/log"
)

func main() {
	stmts, err := gormschema.New("sqlite").Load(
		&db.UserProfileDBEntry{},
		&db.UserKeyDBEntry{},
		&db.ConversationDBEntry{},
		&db.MessageDBEntry{},
		&db.UserConnectionDBEntry{},
	)
	if err != nil {
		log.WithError(err).Fatal("Failed to load GORM models")
	}
	fmt.Printf("%s\n", stmts)
}
