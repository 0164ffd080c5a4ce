package prstate_test

import (
	"testing"

	"github.com/simplesurance/gatekeeper/internal/prstate"
	"github.com/simplesurance/gatekeeper/internal/prstate/storetest"
)

func TestMemStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) prstate.Store {
		return prstate.NewMemStore()
	})
}
