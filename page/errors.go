package page

import "errors"

// ErrBufferNotReady is returned by BufferForRead/BufferForWrite when called
// before the page's buffer has been published by a load task.
var ErrBufferNotReady = errors.New("page: buffer not ready")

// ErrAlreadyAttached is returned by PageAcquisition.Attach when the
// acquisition is already attached to a page.
var ErrAlreadyAttached = errors.New("page: acquisition already attached")

// ErrNotAttached is returned by PageAcquisition methods called before
// Attach.
var ErrNotAttached = errors.New("page: acquisition not attached")
