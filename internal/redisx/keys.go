package redisx

import (
	"fmt"
	"time"
)

// Key layout. Everything here is derivable state: losing Redis loses
// notification dedup and cached statuses, never order truth.
const (
	// dedup:<consumerGroup>:<eventID>
	keyDedup = "dedup:%s:%s"
	// order_status:<orderID>
	keyOrderStatus = "order_status:%s"
	// notify:dismissed:<buyerID>:<orderID>
	keyDismissed = "notify:dismissed:%s:%s"
	// notify:alerted:<buyerID>:<orderID>
	keyAlerted = "notify:alerted:%s:%s"
)

const (
	TTLDedup       = 48 * time.Hour
	TTLOrderStatus = 5 * time.Minute
	TTLNotifyState = 12 * time.Hour
)

func KeyDedup(group, eventID string) string {
	return fmt.Sprintf(keyDedup, group, eventID)
}

func KeyOrderStatus(orderID string) string {
	return fmt.Sprintf(keyOrderStatus, orderID)
}

func KeyDismissed(buyerID, orderID string) string {
	return fmt.Sprintf(keyDismissed, buyerID, orderID)
}

func KeyAlerted(buyerID, orderID string) string {
	return fmt.Sprintf(keyAlerted, buyerID, orderID)
}
