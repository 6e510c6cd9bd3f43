// Package labels holds the static, read-only translation tables between
// human-readable labels and the remote CRM's list option ids.
package labels

import "strings"

type entry struct {
	label string
	id    string
}

// Table 是不可变的双向映射，反向索引在创建时一次性构建
type Table struct {
	name    string
	forward map[string]string
	folded  map[string]string
	reverse map[string]string
}

func newTable(name string, entries ...entry) *Table {
	t := &Table{
		name:    name,
		forward: make(map[string]string, len(entries)),
		folded:  make(map[string]string, len(entries)),
		reverse: make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		t.forward[e.label] = e.id
		if _, ok := t.folded[fold(e.label)]; !ok {
			t.folded[fold(e.label)] = e.id
		}
		// 别名共享同一个 id，反向保留第一个（规范）标签
		if _, ok := t.reverse[e.id]; !ok {
			t.reverse[e.id] = e.label
		}
	}
	return t
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name 表名
func (t *Table) Name() string {
	return t.name
}

// ID 标签转选项 id；先精确匹配再忽略大小写，都未命中返回空串
func (t *Table) ID(label string) string {
	if label == "" {
		return ""
	}
	if id, ok := t.forward[label]; ok {
		return id
	}
	return t.folded[fold(label)]
}

// Label 选项 id 转标签；未命中返回原始 id
func (t *Table) Label(id string) string {
	if label, ok := t.reverse[id]; ok {
		return label
	}
	return id
}

var Priority = newTable("priority",
	entry{"Crítico/Emergencial", "1557"},
	entry{"Critico/Emergencial", "1557"},
	entry{"Crítico", "1557"},
	entry{"Alto/Urgente", "1559"},
	entry{"Alto", "1559"},
	entry{"Médio/Normal", "1561"},
	entry{"Médio", "1561"},
	entry{"Normal", "1561"},
	entry{"Baixo/Planejado", "1563"},
	entry{"Baixo", "1563"},
)

var Systems = newTable("systems",
	entry{"SSW", "769"},
	entry{"Sacflow", "771"},
	entry{"Unitop", "773"},
	entry{"Bitrix", "775"},
	entry{"Automações", "1291"},
	entry{"Extensão", "1293"},
	entry{"Outros", "1295"},
)

var Category = newTable("category",
	entry{"Interno", "1565"},
	entry{"Cliente PF", "1567"},
	entry{"Terceirizados", "1569"},
	entry{"Cliente PJ", "1571"},
)

var Branches = newTable("branches",
	entry{"Belém (BEL)", "1389"},
	entry{"Cuiabá (CGB)", "1391"},
	entry{"Campo Grande (CGR)", "1393"},
	entry{"Curitiba (CWB)", "1395"},
	entry{"Dourados (DRD)", "1397"},
	entry{"Ji Paraná (JIP)", "1399"},
	entry{"Joinville (JVE)", "1401"},
	entry{"Londrina (LDB)", "1403"},
	entry{"Navegantes (NGT)", "1405"},
	entry{"Porto Velho (PVH)", "1407"},
	entry{"Rio Branco (RBO)", "1409"},
	entry{"Rondonópolis (ROO)", "1411"},
	entry{"São Paulo (SAO)", "1413"},
	entry{"Vilhena (VHA)", "1415"},
	entry{"Matriz (MTZ)", "1417"},
)

var Departments = newTable("departments",
	entry{"Abastecimento", "1301"},
	entry{"Administrativo", "1303"},
	entry{"Almoxarifado", "1305"},
	entry{"Armazém", "1307"},
	entry{"Borracharia/Lavagem", "1309"},
	entry{"Carga", "1311"},
	entry{"Coleta/Entrega", "1313"},
	entry{"Coleta/Entrega ADM", "1315"},
	entry{"Comercial", "1317"},
	entry{"Compras", "1319"},
	entry{"Contabilidade", "1321"},
	entry{"Controladoria", "1323"},
	entry{"Controle", "1325"},
	entry{"Coordenação", "1327"},
	entry{"Crédito / Cobrança", "1329"},
	entry{"Descarga", "1331"},
	entry{"Diretoria", "1333"},
	entry{"Embarcadora", "1335"},
	entry{"Expedição", "1337"},
	entry{"Faturamento", "1339"},
	entry{"Financeiro", "1341"},
	entry{"Frota", "1343"},
	entry{"Gerencia", "1345"},
	entry{"Jurídico", "1347"},
	entry{"Manutenção", "1349"},
	entry{"Marketing", "1351"},
	entry{"Mecânica", "1353"},
	entry{"Motorista", "1355"},
	entry{"NCE", "1357"},
	entry{"Operacional", "1359"},
	entry{"PCM", "1361"},
	entry{"Pendencia", "1363"},
	entry{"Presidência", "1365"},
	entry{"Qualidade", "1367"},
	entry{"Recepção", "1369"},
	entry{"RH", "1371"},
	entry{"Redespacho", "1373"},
	entry{"SAC", "1375"},
	entry{"Segurança", "1377"},
	entry{"Segurança e Monitoramento", "1377"},
	entry{"SESMT", "1379"},
	entry{"Parcerias", "1381"},
	entry{"Supervisão", "1383"},
	entry{"TI", "1385"},
	entry{"Trafego", "1387"},
)
