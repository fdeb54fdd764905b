package memory

import (
	"testing"

	"github.com/chess-vn/slduel/internal/duel"
	"github.com/chess-vn/slduel/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) duel.Store {
		return NewStore()
	})
}
