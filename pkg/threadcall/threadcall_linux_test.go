//go:build linux

package threadcall_test

import (
	"context"
	"syscall"
	"testing"
	"time"

	"uibridge/pkg/threadcall"
)

func TestRun_InitAndCallShareThread(t *testing.T) {
	t.Parallel()

	var initTID, releaseTID int
	callTID, err := threadcall.Run(context.Background(), "tid", time.Second, func(context.Context) (int, error) {
		return syscall.Gettid(), nil
	}, threadcall.WithThreadInit(func() (func(), error) {
		initTID = syscall.Gettid()
		return func() { releaseTID = syscall.Gettid() }, nil
	}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if initTID != callTID || releaseTID != callTID {
		t.Fatalf("expected one thread, got init=%d call=%d release=%d", initTID, callTID, releaseTID)
	}
}
