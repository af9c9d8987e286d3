// Package repository is the persistence adapter for incidents and tickets,
// written against pgx. External identifiers are free-form strings; every row
// key is the deterministic uuid derived from them.
package repository

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// DeriveUUID maps an external identifier onto the uuid used for persistence:
// a string that already parses as a uuid is used verbatim, anything else
// yields a namespaced v5 uuid (DNS namespace, input as name). The mapping is
// deterministic so producers may keep using human-readable ids.
func DeriveUUID(s string) uuid.UUID {
	if u, err := uuid.Parse(s); err == nil {
		return u
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(s))
}

// DeriveUUIDString is DeriveUUID in string form, for event payloads that
// must carry both the public id and the db id.
func DeriveUUIDString(s string) string {
	return DeriveUUID(s).String()
}

func pgUUID(u uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: u, Valid: true}
}

// UUIDString renders a pgtype.UUID for event payloads and responses.
func UUIDString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}
