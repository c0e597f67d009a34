package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edugrade-api/internal/dto"
	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/repository"
)

func receiveNotification(t *testing.T, ch <-chan dto.NotificationResponse) dto.NotificationResponse {
	t.Helper()
	select {
	case item := <-ch:
		return item
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
		return dto.NotificationResponse{}
	}
}

func TestNotificationServicePublishSanitizesAndStreams(t *testing.T) {
	svc := NewNotificationService(repository.NewNotificationRepository(openServiceDB(t)), nil, "", nil, newValidator(), testLogger())
	ctx := context.Background()

	stream, cleanup := svc.Subscribe("student-1")
	defer cleanup()

	published, err := svc.Publish(ctx, dto.NotificationCreateRequest{
		UserID:       "student-1",
		Kind:         models.NotificationKindSuccess,
		Title:        "<b>Processing complete</b>",
		Message:      "hw.pdf scored 85/100.<script>alert(1)</script>",
		SubmissionID: "sub-1",
	})
	require.NoError(t, err)
	require.Equal(t, "Processing complete", published.Title)
	require.Equal(t, "hw.pdf scored 85/100.", published.Message)
	require.NotZero(t, published.ID)

	received := receiveNotification(t, stream)
	require.Equal(t, published.ID, received.ID)

	_, err = svc.Publish(ctx, dto.NotificationCreateRequest{UserID: "student-1", Kind: "warning", Title: "x", Message: "y"})
	require.Error(t, err)

	_, err = svc.Publish(ctx, dto.NotificationCreateRequest{UserID: "student-1", Kind: models.NotificationKindError, Title: "x", Message: "<script></script>"})
	require.Error(t, err)
}

func TestNotificationServiceNotifyIsScopedPerUser(t *testing.T) {
	svc := NewNotificationService(repository.NewNotificationRepository(openServiceDB(t)), nil, "", nil, newValidator(), testLogger())
	ctx := context.Background()

	mine, cleanupMine := svc.Subscribe("student-1")
	defer cleanupMine()
	theirs, cleanupTheirs := svc.Subscribe("student-2")
	defer cleanupTheirs()

	svc.Notify(ctx, "student-1", models.NotificationKindStarted, "Processing started", "hw.pdf is being analyzed.", "sub-1")
	receiveNotification(t, mine)

	select {
	case item := <-theirs:
		t.Fatalf("unexpected notification for another user: %+v", item)
	default:
	}

	// Invalid payloads are dropped without surfacing to the caller.
	svc.Notify(ctx, "", models.NotificationKindStarted, "t", "m", "sub-1")
}

func TestNotificationServiceListAndMarkRead(t *testing.T) {
	svc := NewNotificationService(repository.NewNotificationRepository(openServiceDB(t)), nil, "", nil, newValidator(), testLogger())
	ctx := context.Background()

	svc.Notify(ctx, "student-1", models.NotificationKindStarted, "Processing started", "a.pdf is being analyzed.", "sub-1")
	svc.Notify(ctx, "student-1", models.NotificationKindSuccess, "Processing complete", "a.pdf scored 90/100.", "sub-1")
	svc.Notify(ctx, "student-2", models.NotificationKindStarted, "Processing started", "b.pdf is being analyzed.", "sub-2")

	list, err := svc.List(ctx, "student-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	require.EqualValues(t, 2, list.Unread)

	read, err := svc.MarkRead(ctx, list.Items[0].ID, "student-1")
	require.NoError(t, err)
	require.True(t, read.Read)

	list, err = svc.List(ctx, "student-1", 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, list.Unread)

	_, err = svc.MarkRead(ctx, list.Items[0].ID, "student-2")
	require.ErrorIs(t, err, ErrNotificationNotFound)

	_, err = svc.List(ctx, " ", 10, 0)
	require.Error(t, err)
}

func TestNotificationServiceFansOutThroughRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: server.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	repo := repository.NewNotificationRepository(openServiceDB(t))
	publisher := NewNotificationService(repo, newClient(), "edugrade", nil, newValidator(), testLogger())
	replica := NewNotificationService(repo, newClient(), "edugrade", nil, newValidator(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	publisher.Start(ctx)
	replica.Start(ctx)

	require.Eventually(t, func() bool {
		return server.PubSubNumSub("edugrade:notifications")["edugrade:notifications"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	local, cleanupLocal := publisher.Subscribe("student-1")
	defer cleanupLocal()
	remote, cleanupRemote := replica.Subscribe("student-1")
	defer cleanupRemote()

	published, err := publisher.Publish(ctx, dto.NotificationCreateRequest{
		UserID:  "student-1",
		Kind:    models.NotificationKindSuccess,
		Title:   "Processing complete",
		Message: "hw.pdf scored 85/100.",
	})
	require.NoError(t, err)

	require.Equal(t, published.ID, receiveNotification(t, remote).ID)
	require.Equal(t, published.ID, receiveNotification(t, local).ID)

	select {
	case item := <-local:
		t.Fatalf("publisher received its own event twice: %+v", item)
	case <-time.After(100 * time.Millisecond):
	}
}
