// Package treble is a bot that fills in bells during online change
// ringing practices.
//
// The ringing engine is in packages 'bell', 'notation', 'rowgen',
// 'rhythm' and 'bot'; the tower transports are in 'tower' (socket.io
// over websockets) and 'towermq' (MQTT).  The command-line tool is in
// cmd/treble.
package treble
