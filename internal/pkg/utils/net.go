package utils

import (
	"net"
)

// GetOutboundIP 通过一个 UDP "连接" 获取本机对外的首选 IP，不会真正发送数据
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
