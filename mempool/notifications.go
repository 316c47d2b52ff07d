// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// NotificationType represents the type of a notification message.
type NotificationType int

// NotificationCallback is used for a caller to provide a callback for
// notifications about various pool events.
type NotificationCallback func(*Notification)

// Constants for the type of a notification message.
const (
	// NTTxAccepted indicates a transaction was admitted to the pool. The
	// data is the accepted entry's *txgraph.TxDesc.
	NTTxAccepted NotificationType = iota

	// NTTxRemoved indicates a transaction left the pool. The data is a
	// *TxRemovedData describing which entry and why.
	NTTxRemoved
)

// notificationTypeStrings is a map of notification types back to their
// constant names for pretty printing.
var notificationTypeStrings = map[NotificationType]string{
	NTTxAccepted: "NTTxAccepted",
	NTTxRemoved:  "NTTxRemoved",
}

// String returns the NotificationType in human-readable form.
func (n NotificationType) String() string {
	if s, ok := notificationTypeStrings[n]; ok {
		return s
	}
	return "Unknown NotificationType"
}

// RemovalReason describes why a transaction left the pool.
type RemovalReason int

const (
	// RemovalReasonExplicit covers caller-requested removal, including
	// block confirmation handling.
	RemovalReasonExplicit RemovalReason = iota

	// RemovalReasonEvicted covers size-cap eviction.
	RemovalReasonEvicted

	// RemovalReasonCascade covers descendants removed because an ancestor
	// was removed.
	RemovalReasonCascade
)

// TxRemovedData is the notification payload for NTTxRemoved.
type TxRemovedData struct {
	TxHash chainhash.Hash
	Reason RemovalReason
}

// Notification defines a notification that is sent to the caller via the
// callback function provided during the call to Subscribe and consists of a
// notification type as well as associated data that depends on the type as
// follows:
//   - NTTxAccepted: *txgraph.TxDesc
//   - NTTxRemoved:  *TxRemovedData
type Notification struct {
	Type NotificationType
	Data interface{}
}

// Subscribe registers a callback to be invoked for future pool events.
func (mp *TxPool) Subscribe(callback NotificationCallback) {
	mp.notificationsLock.Lock()
	mp.notifications = append(mp.notifications, callback)
	mp.notificationsLock.Unlock()
}

// sendNotification generates and sends a notification to all subscribers.
func (mp *TxPool) sendNotification(typ NotificationType, data interface{}) {
	n := Notification{Type: typ, Data: data}
	mp.notificationsLock.RLock()
	for _, callback := range mp.notifications {
		callback(&n)
	}
	mp.notificationsLock.RUnlock()
}
