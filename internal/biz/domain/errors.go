package domain

import "errors"

var (
	// ErrNotFound is returned by repositories when a row does not exist
	ErrNotFound = errors.New("not found")

	// ErrBufferNotClaimable means the buffer left the buffering state before the claim
	ErrBufferNotClaimable = errors.New("buffer not claimable")

	// ErrAppendContention means concurrent writers kept winning the append race
	ErrAppendContention = errors.New("buffer append contention")
)
