package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Search    key.Binding
	Business  key.Binding
	Exchange  key.Binding
	Phone     key.Binding
	Sort      key.Binding
	More      key.Binding
	Open      key.Binding
	Back      key.Binding
	Reload    key.Binding
	Quit      key.Binding
	Left      key.Binding
	Right     key.Binding
	Up        key.Binding
	Down      key.Binding
	MoveLeft  key.Binding
	MoveRight key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Search:    key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		Business:  key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "negócio")),
		Exchange:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "permuta")),
		Phone:     key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "telefone")),
		Sort:      key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "ordenar")),
		More:      key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "carregar mais")),
		Open:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "detalhes")),
		Back:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancelar/fechar")),
		Reload:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "recarregar")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "sair")),
		Left:      key.NewBinding(key.WithKeys("left", "h")),
		Right:     key.NewBinding(key.WithKeys("right", "l")),
		Up:        key.NewBinding(key.WithKeys("up", "k")),
		Down:      key.NewBinding(key.WithKeys("down", "j")),
		MoveLeft:  key.NewBinding(key.WithKeys("H", "shift+left"), key.WithHelp("H/L", "mover")),
		MoveRight: key.NewBinding(key.WithKeys("L", "shift+right")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Search, k.Business, k.Exchange, k.Phone, k.Sort, k.More, k.MoveLeft, k.Open, k.Back, k.Reload, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }
