package directory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omochice/pairchat/internal/directory"
	"github.com/omochice/pairchat/internal/errs"
	"github.com/omochice/pairchat/internal/mocks"
	"github.com/omochice/pairchat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestDirectory_Refresh_ReplacesWholesale(t *testing.T) {
	ctrl := gomock.NewController(t)
	lister := mocks.NewMockLister(ctrl)
	dir := directory.New(lister, nil)

	gomock.InOrder(
		lister.EXPECT().Contacts(gomock.Any(), "alice").
			Return([]protocol.Contact{{Username: "bob"}, {Username: "carol"}}, nil),
		lister.EXPECT().Contacts(gomock.Any(), "alice").
			Return([]protocol.Contact{{Username: "dave"}}, nil),
	)

	applied, err := dir.Refresh(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, []protocol.Contact{{Username: "bob"}, {Username: "carol"}}, dir.Contacts())

	applied, err = dir.Refresh(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, applied)
	// Never merged with the previous list.
	assert.Equal(t, []protocol.Contact{{Username: "dave"}}, dir.Contacts())
	assert.False(t, dir.Contains("bob"))
	assert.True(t, dir.Contains("dave"))
}

func TestDirectory_Refresh_FailureKeepsPrevious(t *testing.T) {
	ctrl := gomock.NewController(t)
	lister := mocks.NewMockLister(ctrl)
	dir := directory.New(lister, nil)

	boom := errors.New("connection refused")
	gomock.InOrder(
		lister.EXPECT().Contacts(gomock.Any(), "alice").Return([]protocol.Contact{{Username: "bob"}}, nil),
		lister.EXPECT().Contacts(gomock.Any(), "alice").Return(nil, boom),
	)

	_, err := dir.Refresh(context.Background(), "alice")
	require.NoError(t, err)

	applied, err := dir.Refresh(context.Background(), "alice")
	assert.ErrorIs(t, err, boom)
	assert.False(t, applied)
	assert.Equal(t, []protocol.Contact{{Username: "bob"}}, dir.Contacts())
}

func TestDirectory_Refresh_FailureOnEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	lister := mocks.NewMockLister(ctrl)
	dir := directory.New(lister, nil)

	lister.EXPECT().Contacts(gomock.Any(), "alice").Return(nil, errors.New("boom")).Times(1)

	_, err := dir.Refresh(context.Background(), "alice")
	require.Error(t, err)
	assert.NotNil(t, dir.Contacts())
	assert.Empty(t, dir.Contacts())
}

func TestDirectory_Refresh_DropsEmptyUsernames(t *testing.T) {
	ctrl := gomock.NewController(t)
	lister := mocks.NewMockLister(ctrl)
	dir := directory.New(lister, nil)

	lister.EXPECT().Contacts(gomock.Any(), "alice").
		Return([]protocol.Contact{{Username: ""}, {Username: "bob"}}, nil)

	_, err := dir.Refresh(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []protocol.Contact{{Username: "bob"}}, dir.Contacts())
}

func TestDirectory_Refresh_StaleResponseDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	lister := mocks.NewMockLister(ctrl)
	dir := directory.New(lister, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	gomock.InOrder(
		lister.EXPECT().Contacts(gomock.Any(), "alice").DoAndReturn(
			func(ctx context.Context, _ string) ([]protocol.Contact, error) {
				close(started)
				<-release
				return []protocol.Contact{{Username: "old"}}, nil
			}),
		lister.EXPECT().Contacts(gomock.Any(), "alice").
			Return([]protocol.Contact{{Username: "new"}}, nil),
	)

	done := make(chan bool, 1)
	go func() {
		applied, err := dir.Refresh(context.Background(), "alice")
		assert.ErrorIs(t, err, errs.ErrStaleResponse)
		done <- applied
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first request")
	}

	applied, err := dir.Refresh(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, applied)

	close(release)
	select {
	case applied := <-done:
		assert.False(t, applied)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stale response")
	}
	assert.Equal(t, []protocol.Contact{{Username: "new"}}, dir.Contacts())
}

func TestDirectory_Unread(t *testing.T) {
	dir := directory.New(nil, nil)

	assert.Equal(t, 0, dir.Unread("bob"))
	assert.Equal(t, 1, dir.MarkUnread("bob"))
	assert.Equal(t, 2, dir.MarkUnread("bob"))
	assert.Equal(t, 1, dir.MarkUnread("carol"))
	assert.Equal(t, map[string]int{"bob": 2, "carol": 1}, dir.UnreadCounts())

	dir.ClearUnread("bob")
	assert.Equal(t, 0, dir.Unread("bob"))
	assert.Equal(t, map[string]int{"carol": 1}, dir.UnreadCounts())
}
