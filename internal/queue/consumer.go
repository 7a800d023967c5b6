package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/presensi-qr/internal/logger"
)

// DefaultScanLogPath is where the consumer appends one line per scan.
var DefaultScanLogPath = filepath.Join("logs", "attendance.log")

const maxBackoff = 30 * time.Second

// StartScanConsumer connects to RabbitMQ, declares the scan queue and
// appends every delivered event to logPath (DefaultScanLogPath when
// empty).  It reconnects with exponential backoff until ctx is cancelled,
// then returns ctx.Err().
// Messages that cannot be decoded or written are rejected without requeue
// so one bad payload cannot stall the queue.
func StartScanConsumer(ctx context.Context, url, logPath string, log logger.Logger) error {
	if logPath == "" {
		logPath = DefaultScanLogPath
	}
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warnf("scan-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, logPath, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("scan-consumer: consume loop ended: %v; reconnecting", err)
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, logPath string, log logger.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warnf("scan-consumer: set QoS failed: %v", err)
	}
	if _, err := ch.QueueDeclare(ScanQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(ScanQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Infof("scan-consumer: consuming %s", ScanQueueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handleMessage(logPath, d.Body); err != nil {
				log.Errorf("scan-consumer: handle message failed: %v", err)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func handleMessage(logPath string, body []byte) error {
	var ev ScanEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.AttendanceID == "" || ev.UserID == "" || ev.Mode == "" {
		return errors.New("incomplete scan event")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// formatLine renders one event as a single human-readable log line.
func formatLine(ev ScanEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | attendance_id=%s | user_id=%s | date=%s",
		ev.ScannedAt, ev.Mode, ev.AttendanceID, ev.UserID, ev.AttendanceDate)
	if ev.Status != "" {
		fmt.Fprintf(&b, " | status=%s", ev.Status)
	}
	if ev.CheckInAt != "" {
		fmt.Fprintf(&b, " | check_in=%s", ev.CheckInAt)
	}
	if ev.CheckOutAt != "" {
		fmt.Fprintf(&b, " | check_out=%s", ev.CheckOutAt)
	}
	if ev.Mode == "CHECK_IN" {
		fmt.Fprintf(&b, " | allowance_eligible=%t | allowance=%d", ev.AllowanceEligible, ev.AllowanceAmount)
	}
	if ev.ClosedStale > 0 {
		fmt.Fprintf(&b, " | closed_stale=%d", ev.ClosedStale)
	}
	b.WriteByte('\n')
	return b.String()
}
