// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package i18n localizes the generic error messages shown to clients.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key identifies a client-facing message.
type Key string

const (
	KeyValidation           Key = "error.validation"
	KeyUnauthenticated      Key = "error.unauthenticated"
	KeyInsufficientBalance  Key = "error.insufficient_balance"
	KeyConversationNotFound Key = "error.conversation_not_found"
	KeyDuplicateRequest     Key = "error.duplicate_request"
	KeyUpstream             Key = "error.upstream"
	KeyInternal             Key = "error.internal"
)

// supported lists the available languages; the first is the fallback.
var supported = []language.Tag{language.English, language.Spanish}

var matcher = language.NewMatcher(supported)

var translations = map[language.Tag]map[Key]string{
	language.English: {
		KeyValidation:           "The request is invalid.",
		KeyUnauthenticated:      "Please sign in to continue.",
		KeyInsufficientBalance:  "You do not have enough points for this model.",
		KeyConversationNotFound: "Conversation not found.",
		KeyDuplicateRequest:     "This request is already being processed.",
		KeyUpstream:             "The assistant is unavailable right now. Please try again.",
		KeyInternal:             "Something went wrong. Please try again.",
	},
	language.Spanish: {
		KeyValidation:           "La solicitud no es válida.",
		KeyUnauthenticated:      "Inicia sesión para continuar.",
		KeyInsufficientBalance:  "No tienes suficientes puntos para este modelo.",
		KeyConversationNotFound: "Conversación no encontrada.",
		KeyDuplicateRequest:     "Esta solicitud ya se está procesando.",
		KeyUpstream:             "El asistente no está disponible en este momento. Inténtalo de nuevo.",
		KeyInternal:             "Algo salió mal. Inténtalo de nuevo.",
	},
}

var messages = func() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range translations {
		for key, text := range msgs {
			_ = b.SetString(tag, string(key), text)
		}
	}
	return b
}()

// Match picks the best supported language for an Accept-Language header.
// Empty or unparseable headers yield English.
func Match(acceptLanguage string) language.Tag {
	_, index := language.MatchStrings(matcher, acceptLanguage)
	return supported[index]
}

// Message returns the text for key in the language best matching
// acceptLanguage.
func Message(acceptLanguage string, key Key) string {
	p := message.NewPrinter(Match(acceptLanguage), message.Catalog(messages))
	return p.Sprintf(string(key))
}
