package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowExecDefaultsOff(t *testing.T) {
	globalRuntime.allowExec = false
	assert.False(t, IsExecAllowed())

	SetAllowExec(true)
	assert.True(t, IsExecAllowed())

	SetAllowExec(false)
	assert.False(t, IsExecAllowed())
}

func TestAllowExecConcurrentAccess(t *testing.T) {
	defer SetAllowExec(false)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(allow bool) {
			defer wg.Done()
			SetAllowExec(allow)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			_ = IsExecAllowed()
		}()
	}
	wg.Wait()
}
