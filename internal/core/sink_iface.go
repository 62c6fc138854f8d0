package core

// RenderTarget is where a live session puts remote media.
// Attach/Play replace whatever was attached before for that kind.
type RenderTarget interface {
	AttachVideo(track RemoteTrack)
	DetachVideo()
	PlayAudio(track RemoteTrack)
	StopAudio()
}
