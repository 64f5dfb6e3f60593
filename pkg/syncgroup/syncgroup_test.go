package syncgroup

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncGroup_RunAndWait(t *testing.T) {
	sg := NewSyncGroup()
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		sg.Add(func() { n.Add(1) })
	}
	sg.Add(nil)
	sg.Run()
	sg.Wait()
	assert.Equal(t, int32(5), n.Load())

	// 再次 Run 不会重复启动
	sg.Run()
	sg.Wait()
	assert.Equal(t, int32(5), n.Load())
}
