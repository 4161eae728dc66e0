package emit

var (
	_ Emitter = (*LogEmitter)(nil)
	_ Emitter = (*NullEmitter)(nil)
	_ Emitter = (*BufferedEmitter)(nil)
	_ Emitter = (*OTelEmitter)(nil)
)
