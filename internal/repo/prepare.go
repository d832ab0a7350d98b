package repo

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/opsmonitor/internal/domain"
)

// PrepareNew fills identity and defaults on a target about to be inserted.
func PrepareNew(t *domain.Target) {
	if t.ID == "" {
		t.ID = domain.TargetID(uuid.NewString())
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Kind == "" {
		t.Kind = domain.KindHTTP
	}
	if t.ExpectedStatus == 0 {
		t.ExpectedStatus = http.StatusOK
	}
	if t.Status == "" {
		t.Status = domain.StatusUnknown
	}
}
