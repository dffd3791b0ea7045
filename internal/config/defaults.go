package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults registers a default for every key so env overrides and Unmarshal see them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("datadir", defaultDataDir())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")
	v.SetDefault("log.maxsize", 10)
	v.SetDefault("log.maxbackups", 3)
	v.SetDefault("log.maxage", 28)

	v.SetDefault("camera.device", 0)
	v.SetDefault("camera.pipeline", "")
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.targetfps", 20.0)
	v.SetDefault("camera.backoff", 200*time.Millisecond)

	v.SetDefault("detector.model", "models/retinaface.onnx")
	v.SetDefault("detector.config", "")
	v.SetDefault("detector.inputsize", 640)
	v.SetDefault("detector.threshold", 0.8)
	v.SetDefault("detector.nmsthreshold", 0.4)
	v.SetDefault("detector.motiongate", false)
	v.SetDefault("detector.motionthreshold", 1.0)

	v.SetDefault("recognition.model", "models/mobilefacenet.onnx")
	v.SetDefault("recognition.config", "")
	v.SetDefault("recognition.output", "fc1")
	v.SetDefault("recognition.threshold", 0.5)
	v.SetDefault("recognition.eventttl", 30*time.Second)

	v.SetDefault("recording.enabled", true)
	v.SetDefault("recording.dir", "rec")
	v.SetDefault("recording.activate", time.Second)
	v.SetDefault("recording.deactivate", 2*time.Second)
	v.SetDefault("recording.preroll", 2*time.Second)
	v.SetDefault("recording.codec", "MJPG")

	v.SetDefault("store.path", "watchpost.db")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.staticdir", "")
	v.SetDefault("server.streaming", false)
	v.SetDefault("server.streamfps", 15)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.clientid", "watchpost")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "watchpost")

	v.SetDefault("hooks.dir", "hooks")
	v.SetDefault("hooks.timeout", 5*time.Second)
}
