// Package uac implements a USB Audio Class 2.0 function for the softuac
// device stack.
//
// The function has three interfaces:
//
//   - Interface 0: audio control (clock source, clock selector, two
//     feature units)
//   - Interface 1: record streaming, isochronous IN endpoint 0x81
//   - Interface 2: playback streaming, isochronous OUT endpoint 0x02 with
//     explicit feedback on IN endpoint 0x85
//
// Selecting alternate setting 1 on a streaming interface starts a session
// on the [stream.Pipeline] behind the driver; alternate setting 0 stops it.
//
// # Controls
//
// CUR and RANGE requests are answered for:
//
//   - Clock source 0x10: sampling frequency (4-byte little-endian) and
//     clock validity
//   - Clock selector 0x28: selected input
//   - Feature units 0x05 (record) and 0x06 (playback): mute (1 byte) and
//     volume (int16 little-endian, 1/256 dB)
//
// Any other request is rejected and the stack stalls the control pipe.
//
// # Usage
//
//	audio, err := uac.New(ctrl, uac.Config{Codec: nau})
//	if err != nil {
//		return err
//	}
//	stack := device.NewStack(ctrl)
//	stack.Register(audio)
//
//	go audio.Pipeline().Run(ctx, stream.DefaultGovernorInterval)
//	return stack.Run(ctx)
package uac
