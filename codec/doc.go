// Package codec drives the audio codec behind the streaming pipeline.
//
// Codec registers are written over I2C as two-byte frames carrying a 7-bit
// register address and a 9-bit value. [BusWriter] produces those frames on
// a byte-level [Bus] and retries transactions that lose arbitration;
// [DevWriter] does the same over a periph.io [i2c.Dev]. [NAU8822] builds on
// either one to implement the reset sequence, per-rate clock programming,
// the PLL trim table used by the rate governor, and the mute and volume
// controls of the feature units.
//
// [i2c.Dev]: https://pkg.go.dev/periph.io/x/conn/v3/i2c#Dev
package codec
