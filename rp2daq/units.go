package rp2daq

import (
	"log"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// GPIOWrite drives pin to level, the typed analogue of the firmware's
// gpio_write command.
func (r *Runtime) GPIOWrite(pin int, level gpio.Level) error {
	value := int64(0)
	if level == gpio.High {
		value = 1
	}
	_, err := r.Invoke("gpio_write", map[string]int64{"gpio": int64(pin), "value": value}, nil)
	return err
}

// GPIORead reads the current level of pin synchronously.
func (r *Runtime) GPIORead(pin int) (gpio.Level, error) {
	rep, err := r.Invoke("gpio_read", map[string]int64{"gpio": int64(pin)}, nil)
	if err != nil {
		return gpio.Low, err
	}
	if rep.Header.Values["value"] != 0 {
		return gpio.High, nil
	}
	return gpio.Low, nil
}

// adcFullScale and adcMaxCode describe the 12-bit ADC's reference range,
// matching the worked example's raw * 3.3 / 2**12 conversion.
const (
	adcFullScale = 3300 * physic.MilliVolt
	adcMaxCode   = 1 << 12
)

// CodeToVoltage converts a raw 12-bit ADC code into a typed electric
// potential, the Go-native replacement for the original's manual
// floating-point scale factor.
func CodeToVoltage(code int) physic.ElectricPotential {
	return physic.ElectricPotential(code) * adcFullScale / adcMaxCode
}

// SubscribeADC invokes the ADC command called name (e.g. internal_adc)
// asynchronously with its default arguments, installing a standing
// callback for its report stream that converts each sample to a typed
// voltage before calling cb. Samples within one report arrive in on-wire order. A
// report whose payload failed to decode (rep.Err set, e.g. an
// unsupported data_bitwidth) is logged and skipped rather than handed
// to cb as an empty sample slice.
func (r *Runtime) SubscribeADC(name string, cb func(samples []physic.ElectricPotential)) error {
	_, err := r.Invoke(name, nil, func(rep Report) {
		if rep.Err != nil {
			log.Printf("rp2daq: %s: %s", name, rep.Err)
			return
		}
		out := make([]physic.ElectricPotential, len(rep.Data))
		for i, code := range rep.Data {
			out[i] = CodeToVoltage(code)
		}
		cb(out)
	})
	return err
}
