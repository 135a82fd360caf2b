// Package realtime relays JSON events between authenticated WebSocket
// sessions. Sessions join named rooms, exchange chat messages and receive
// events published by the HTTP layer through Hub.Publish and
// Hub.PublishExceptActor.
//
// Every frame in either direction is a JSON text message of the form
//
//	{"event": "room:join", "data": "project-42"}
//
// Clients authenticate during the handshake. Browser clients offer the
// subprotocols "agentgate.v1" and "auth.<token>"; other clients may instead
// send an Authorization bearer header or a token query parameter.
package realtime
