package websocket

// Precomputed zero-payload control frames, built once at init instead of
// on every heartbeat. The masked variants use an all-zero masking key —
// legal per RFC 6455 Section 5.3, and a no-op XOR since there is no
// payload to transform.
var (
	pingFrameUnmasked = encodeControlFrame(OpPing, nil, false)
	pongFrameUnmasked = encodeControlFrame(OpPong, nil, false)
	pingFrameMasked   = encodeControlFrame(OpPing, nil, true)
	pongFrameMasked   = encodeControlFrame(OpPong, nil, true)
)
