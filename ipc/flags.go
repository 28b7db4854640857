// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ipc

import "code.hybscloud.com/tradekernel/abi"

// CtlCommand is a queue_ctl command.
type CtlCommand int

const (
	// CtlRemove frees the queue's slot.
	CtlRemove CtlCommand = abi.IPCRemove
)

// flag helpers over abi's IPC bit constants, re-exported under the
// names send/receive/queue_get actually test against.
const (
	Create = abi.IPCCreate
	NoWait = abi.IPCNoWait
)
