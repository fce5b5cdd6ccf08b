package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/example/ride-booking/internal/apperr"
)

func TestBackendErrorMapping(t *testing.T) {
	dupKey := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key"}}}
	cases := []struct {
		name string
		got  error
		want error
	}{
		{"pg no rows", pgErr(sql.ErrNoRows), ErrNotFound},
		{"pg unique violation", pgErr(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})), ErrDuplicate},
		{"mongo no documents", mongoErr(mongo.ErrNoDocuments), ErrNotFound},
		{"mongo duplicate key", mongoErr(dupKey), ErrDuplicate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.got, tc.want) {
				t.Fatalf("got %v, want %v", tc.got, tc.want)
			}
		})
	}

	for _, err := range []error{pgErr(errors.New("connection refused")), mongoErr(errors.New("server selection timeout"))} {
		if !apperr.Is(err, apperr.Unavailable) {
			t.Fatalf("driver failures must be unavailable, got %v", err)
		}
	}
	if pgErr(nil) != nil || mongoErr(nil) != nil {
		t.Fatal("nil stays nil")
	}
}
