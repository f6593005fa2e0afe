package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/queue"
)

var ada = Notice{AlertID: "al-1", Contact: "+15550001", StudentName: "Ada", DaysAbsent: 3}

func TestNoticeText(t *testing.T) {
	assert.Equal(t, "Attendance alert: Ada has been absent for 3+ consecutive days. Please contact the school.", ada.Text())
}

func TestWhatsAppSendsTextMessage(t *testing.T) {
	var got whatsAppText
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/PHONE/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid"}]}`))
	}))
	defer srv.Close()

	wa := NewWhatsApp(srv.URL+"/", "PHONE", "tok")
	require.NoError(t, wa.SendAbsenceAlert(context.Background(), ada))
	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "15550001", got.To)
	assert.Equal(t, ada.Text(), got.Text.Body)
}

func TestWhatsAppErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewWhatsApp(srv.URL, "PHONE", "bad").SendAbsenceAlert(context.Background(), ada)
	require.ErrorContains(t, err, "invalid token")

	unconfigured := NewWhatsApp(srv.URL, "", "")
	assert.False(t, unconfigured.Configured())
	require.Error(t, unconfigured.SendAbsenceAlert(context.Background(), ada))

	require.Error(t, NewWhatsApp(srv.URL, "P", "t").SendAbsenceAlert(context.Background(), Notice{StudentName: "x"}))
}

func TestQueueNotifierEnqueuesNotice(t *testing.T) {
	q := queue.NewInMemory(1)
	require.NoError(t, NewQueueNotifier(q).SendAbsenceAlert(context.Background(), ada))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	msg := <-msgs
	assert.Equal(t, MessageType, msg.Type)
	var n Notice
	require.NoError(t, msg.Decode(&n))
	assert.Equal(t, ada, n)
}

func TestLogNotifierDoesNotClaimDelivery(t *testing.T) {
	require.ErrorIs(t, NewLogNotifier(zerolog.Nop()).SendAbsenceAlert(context.Background(), ada), ErrNoChannel)
}

func TestDirectFallsBackToLog(t *testing.T) {
	assert.IsType(t, &LogNotifier{}, Direct(NewWhatsApp("http://x", "", ""), zerolog.Nop()))
	assert.IsType(t, &LogNotifier{}, Direct(nil, zerolog.Nop()))
	assert.IsType(t, &WhatsApp{}, Direct(NewWhatsApp("http://x", "P", "t"), zerolog.Nop()))
}
