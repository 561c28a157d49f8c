package testutil

import (
	"sync"

	"github.com/Agrid-Dev/thermobrew/internal/fermenter"
)

// FakeConfigService implements ports.ConfigService on top of a real store
// and records every patch it receives.
// Put ONLY what multiple test packages need here.
type FakeConfigService struct {
	Store *fermenter.Store

	mu      sync.Mutex
	patches []fermenter.Patch
}

func NewFakeConfigService() *FakeConfigService {
	st, err := fermenter.NewStore(fermenter.DefaultSnapshot())
	if err != nil {
		panic(err)
	}
	return &FakeConfigService{Store: st}
}

func (f *FakeConfigService) Get() fermenter.Snapshot { return f.Store.Get() }

func (f *FakeConfigService) Apply(p fermenter.Patch) fermenter.Snapshot {
	f.mu.Lock()
	f.patches = append(f.patches, p)
	f.mu.Unlock()
	return f.Store.Apply(p)
}

// Patches returns a copy of the patches applied so far.
func (f *FakeConfigService) Patches() []fermenter.Patch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fermenter.Patch, len(f.patches))
	copy(out, f.patches)
	return out
}

// FakeStatusSource returns a fixed status.
type FakeStatusSource struct {
	S fermenter.Status
}

func (f *FakeStatusSource) Status() fermenter.Status { return f.S }
