package message

import "fmt"

// Command selects how the type byte of a message is interpreted.
type Command uint8

const (
	CommandPresentation Command = 0
	CommandSet          Command = 1
	CommandReq          Command = 2
	CommandInternal     Command = 3
	CommandStream       Command = 4
)

var commandNames = [...]string{"PRESENTATION", "SET", "REQ", "INTERNAL", "STREAM"}

func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}

	return fmt.Sprintf("COMMAND(%d)", uint8(c))
}

// PayloadType tells the receiver how to decode the payload bytes.
type PayloadType uint8

const (
	PayloadString  PayloadType = 0
	PayloadByte    PayloadType = 1
	PayloadInt16   PayloadType = 2
	PayloadUint16  PayloadType = 3
	PayloadLong32  PayloadType = 4
	PayloadUlong32 PayloadType = 5
	PayloadCustom  PayloadType = 6
	PayloadFloat32 PayloadType = 7
)

var payloadNames = [...]string{"STRING", "BYTE", "INT16", "UINT16", "LONG32", "ULONG32", "CUSTOM", "FLOAT32"}

func (p PayloadType) String() string {
	if int(p) < len(payloadNames) {
		return payloadNames[p]
	}

	return fmt.Sprintf("PAYLOAD(%d)", uint8(p))
}

// Internal message types, carried in the type byte of CommandInternal.
const (
	InternalBatteryLevel          uint8 = 0
	InternalTime                  uint8 = 1
	InternalVersion               uint8 = 2
	InternalIDRequest             uint8 = 3
	InternalIDResponse            uint8 = 4
	InternalInclusionMode         uint8 = 5
	InternalConfig                uint8 = 6
	InternalFindParentRequest     uint8 = 7
	InternalFindParentResponse    uint8 = 8
	InternalLogMessage            uint8 = 9
	InternalChildren              uint8 = 10
	InternalSketchName            uint8 = 11
	InternalSketchVersion         uint8 = 12
	InternalReboot                uint8 = 13
	InternalGatewayReady          uint8 = 14
	InternalSigningPresentation   uint8 = 15
	InternalNonceRequest          uint8 = 16
	InternalNonceResponse         uint8 = 17
	InternalHeartbeatRequest      uint8 = 18
	InternalPresentation          uint8 = 19
	InternalDiscoverRequest       uint8 = 20
	InternalDiscoverResponse      uint8 = 21
	InternalHeartbeatResponse     uint8 = 22
	InternalLocked                uint8 = 23
	InternalPing                  uint8 = 24
	InternalPong                  uint8 = 25
	InternalRegistrationRequest   uint8 = 26
	InternalRegistrationResponse  uint8 = 27
	InternalDebug                 uint8 = 28
	InternalSignalReport          uint8 = 29
	InternalPreSleepNotification  uint8 = 32
	InternalPostSleepNotification uint8 = 33
)

var internalNames = map[uint8]string{
	InternalBatteryLevel:          "I_BATTERY_LEVEL",
	InternalTime:                  "I_TIME",
	InternalVersion:               "I_VERSION",
	InternalIDRequest:             "I_ID_REQUEST",
	InternalIDResponse:            "I_ID_RESPONSE",
	InternalInclusionMode:         "I_INCLUSION_MODE",
	InternalConfig:                "I_CONFIG",
	InternalFindParentRequest:     "I_FIND_PARENT_REQUEST",
	InternalFindParentResponse:    "I_FIND_PARENT_RESPONSE",
	InternalLogMessage:            "I_LOG_MESSAGE",
	InternalChildren:              "I_CHILDREN",
	InternalSketchName:            "I_SKETCH_NAME",
	InternalSketchVersion:         "I_SKETCH_VERSION",
	InternalReboot:                "I_REBOOT",
	InternalGatewayReady:          "I_GATEWAY_READY",
	InternalSigningPresentation:   "I_SIGNING_PRESENTATION",
	InternalNonceRequest:          "I_NONCE_REQUEST",
	InternalNonceResponse:         "I_NONCE_RESPONSE",
	InternalHeartbeatRequest:      "I_HEARTBEAT_REQUEST",
	InternalPresentation:          "I_PRESENTATION",
	InternalDiscoverRequest:       "I_DISCOVER_REQUEST",
	InternalDiscoverResponse:      "I_DISCOVER_RESPONSE",
	InternalHeartbeatResponse:     "I_HEARTBEAT_RESPONSE",
	InternalLocked:                "I_LOCKED",
	InternalPing:                  "I_PING",
	InternalPong:                  "I_PONG",
	InternalRegistrationRequest:   "I_REGISTRATION_REQUEST",
	InternalRegistrationResponse:  "I_REGISTRATION_RESPONSE",
	InternalDebug:                 "I_DEBUG",
	InternalSignalReport:          "I_SIGNAL_REPORT_REQUEST",
	InternalPreSleepNotification:  "I_PRE_SLEEP_NOTIFICATION",
	InternalPostSleepNotification: "I_POST_SLEEP_NOTIFICATION",
}

func InternalName(t uint8) string {
	if name, ok := internalNames[t]; ok {
		return name
	}

	return fmt.Sprintf("I_%d", t)
}

// Sensor types used with CommandPresentation.
const (
	SensorDoor            uint8 = 0
	SensorMotion          uint8 = 1
	SensorSmoke           uint8 = 2
	SensorBinary          uint8 = 3
	SensorDimmer          uint8 = 4
	SensorCover           uint8 = 5
	SensorTemp            uint8 = 6
	SensorHum             uint8 = 7
	SensorBaro            uint8 = 8
	SensorWind            uint8 = 9
	SensorRain            uint8 = 10
	SensorUV              uint8 = 11
	SensorWeight          uint8 = 12
	SensorPower           uint8 = 13
	SensorHeater          uint8 = 14
	SensorDistance        uint8 = 15
	SensorLightLevel      uint8 = 16
	SensorNode            uint8 = 17
	SensorRepeaterNode    uint8 = 18
	SensorLock            uint8 = 19
	SensorIR              uint8 = 20
	SensorWater           uint8 = 21
	SensorAirQuality      uint8 = 22
	SensorCustom          uint8 = 23
	SensorDust            uint8 = 24
	SensorSceneController uint8 = 25
	SensorRGBLight        uint8 = 26
	SensorRGBWLight       uint8 = 27
	SensorColor           uint8 = 28
	SensorHVAC            uint8 = 29
	SensorMultimeter      uint8 = 30
	SensorSprinkler       uint8 = 31
	SensorWaterLeak       uint8 = 32
	SensorSound           uint8 = 33
	SensorVibration       uint8 = 34
	SensorMoisture        uint8 = 35
	SensorInfo            uint8 = 36
	SensorGas             uint8 = 37
	SensorGPS             uint8 = 38
	SensorWaterQuality    uint8 = 39
)

// Variable types used with CommandSet and CommandReq.
const (
	VarTemp          uint8 = 0
	VarHum           uint8 = 1
	VarStatus        uint8 = 2
	VarPercentage    uint8 = 3
	VarPressure      uint8 = 4
	VarForecast      uint8 = 5
	VarRain          uint8 = 6
	VarRainRate      uint8 = 7
	VarWind          uint8 = 8
	VarGust          uint8 = 9
	VarDirection     uint8 = 10
	VarUV            uint8 = 11
	VarWeight        uint8 = 12
	VarDistance      uint8 = 13
	VarImpedance     uint8 = 14
	VarArmed         uint8 = 15
	VarTripped       uint8 = 16
	VarWatt          uint8 = 17
	VarKWh           uint8 = 18
	VarSceneOn       uint8 = 19
	VarSceneOff      uint8 = 20
	VarHVACFlowState uint8 = 21
	VarHVACSpeed     uint8 = 22
	VarLightLevel    uint8 = 23
	VarVar1          uint8 = 24
	VarVar2          uint8 = 25
	VarVar3          uint8 = 26
	VarVar4          uint8 = 27
	VarVar5          uint8 = 28
	VarUp            uint8 = 29
	VarDown          uint8 = 30
	VarStop          uint8 = 31
	VarIRSend        uint8 = 32
	VarIRReceive     uint8 = 33
	VarFlow          uint8 = 34
	VarVolume        uint8 = 35
	VarLockStatus    uint8 = 36
	VarLevel         uint8 = 37
	VarVoltage       uint8 = 38
	VarCurrent       uint8 = 39
	VarRGB           uint8 = 40
	VarRGBW          uint8 = 41
	VarID            uint8 = 42
	VarUnitPrefix    uint8 = 43
	VarSetpointCool  uint8 = 44
	VarSetpointHeat  uint8 = 45
	VarHVACFlowMode  uint8 = 46
	VarText          uint8 = 47
	VarCustom        uint8 = 48
	VarPosition      uint8 = 49
	VarIRRecord      uint8 = 50
)
