package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// NodeFields 描述一个四叉树节点所在的图层与位置。
func NodeFields(layer, path string, depth int) logrus.Fields {
	return logrus.Fields{
		"layer": layer,
		"path":  path,
		"depth": depth,
	}
}

// LayerFields 提供图层级别的公共字段。
func LayerFields(layer, sourceType, projection string) logrus.Fields {
	return logrus.Fields{
		"layer":      layer,
		"type":       sourceType,
		"projection": projection,
	}
}
