package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dropDatabas3/gatehouse/internal/identity"
)

func TestUserUpdate_StampsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	st := New()

	created := time.Now().Add(-time.Hour)
	u := &identity.User{Username: "alice", Email: "alice@example.com", CreatedAt: created, UpdatedAt: created}
	if err := st.Users().Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}

	u.DisplayName = "Alice"
	if err := st.Users().Update(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := st.Users().ByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if got.DisplayName != "Alice" {
		t.Fatalf("display name = %q", got.DisplayName)
	}
	if !got.UpdatedAt.After(created) {
		t.Fatalf("updated_at not stamped: %v", got.UpdatedAt)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at changed: %v", got.CreatedAt)
	}
}

func TestUserUpdate_UnknownID(t *testing.T) {
	st := New()
	err := st.Users().Update(context.Background(), &identity.User{ID: "missing"})
	if err != identity.ErrNotFound {
		t.Fatalf("err = %v", err)
	}
}
