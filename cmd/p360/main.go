// Command p360 is the Poultry360 device agent: an offline-first sync
// client that keeps a local farm-operations database, reconciles it
// with the backend, and serves analytics while disconnected.
package main

func main() {
	Execute()
}
