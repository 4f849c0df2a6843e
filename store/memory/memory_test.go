package memory_test

import (
	"testing"

	"github.com/warp/reconcile-engine/engine"
	"github.com/warp/reconcile-engine/store/memory"
	"github.com/warp/reconcile-engine/store/storetest"
)

var _ engine.Store = (*memory.Store)(nil)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) engine.Store { return memory.New() })
}
